package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/jobbridge/internal/ingest"
	"github.com/ahmethakanbesel/jobbridge/internal/platform/sqlite"
	"github.com/ahmethakanbesel/jobbridge/internal/replica"
	cashflowrepo "github.com/ahmethakanbesel/jobbridge/internal/repository/cashflow"
)

// NewBridgeCommand creates the bridge command.
func NewBridgeCommand(opts *RootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Keep the producer and terminal job tables in sync",
		Long: `Copy changed result tables from shared_dir to local_dir, then merge the
two job tables and write the merge back to whichever side differs.

Without --once the bridge watches both directories and polls every
bridge.poll_interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.Config
			if err := errors.Join(cfg.RequireShared(), cfg.RequireLocal()); err != nil {
				return err
			}
			engine := replica.NewEngine(replica.Config{
				ProducerDir:    cfg.LocalDir,
				TerminalDir:    cfg.SharedDir,
				JobsFile:       cfg.JobsFile,
				ResultPatterns: cfg.Bridge.ResultPatterns,
				StoreOptions:   storeOptions(cfg),
				Debounce:       cfg.Bridge.Debounce,
				PollInterval:   cfg.Bridge.PollInterval,
				GracePeriod:    cfg.Watch.GracePeriod,
			})
			if !once {
				slog.Info("bridge started", "producer", cfg.LocalDir, "terminal", cfg.SharedDir)
				return engine.Run(cmd.Context())
			}

			copied, resErr := engine.SyncResults(cmd.Context())
			wrote, jobErr := engine.SyncJobs(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "results copied: %d, job tables written: %t\n", len(copied), wrote)
			return errors.Join(resErr, jobErr)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run one sync cycle and exit")
	return cmd
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Load finished jobs into the results database and acknowledge them",
		Long: `For every COMPLETED or ERROR job in local_dir, store its cashflows and
bond characteristics in ingest.db_path, record an acknowledgement, and
remove the job from the local job table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.Config
			s, err := openLocal(cfg)
			if err != nil {
				return err
			}
			db, err := sqlite.Open(cfg.IngestDBPath())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			svc := ingest.NewService(s.jobs, s.cashflows, s.chars, cashflowrepo.NewRepository(db.DB))
			sum, err := svc.Run(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "acknowledged: %d, removed: %d, failed: %d\n", sum.Acked, sum.Removed, sum.Failed)
			return err
		},
	}
}
