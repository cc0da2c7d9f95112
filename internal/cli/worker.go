package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/trigger"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Drain the terminal-side queue once",
		Long: `Claim and process PENDING jobs in shared_dir until none remain.

Exits non-zero when any claimed job ended in ERROR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := newWorker(opts.Config)
			if err != nil {
				return err
			}
			sum, err := w.Run(cmd.Context())
			if err != nil {
				return err
			}
			if !sum.OK() {
				return fmt.Errorf("%d of %d jobs failed", sum.Failed, sum.Completed+sum.Failed)
			}
			return nil
		},
	}
}

// NewCheckCommand creates the check command, meant to be run by a scheduler.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	var inProcess bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the worker once if jobs are pending and no worker is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newChecker(opts, inProcess)
			if err != nil {
				return err
			}
			outcome, err := c.MaybeRun(cmd.Context(), "scheduled")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}

	cmd.Flags().BoolVar(&inProcess, "in-process", false, "run the worker in this process instead of a child process")
	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var inProcess bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the worker whenever the shared job table changes",
		Long: `Watch shared_dir for changes to the job table and start the worker when
jobs are pending. A periodic check covers missed filesystem events.

On SIGINT or SIGTERM an in-flight worker gets watch.grace_period to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newChecker(opts, inProcess)
			if err != nil {
				return err
			}
			cfg := opts.Config
			slog.Info("watching job table", "path", cfg.SharedJobsPath())
			return trigger.NewWatcher(c, trigger.WatcherConfig{
				JobsFile:     cfg.SharedJobsPath(),
				Debounce:     cfg.Watch.Debounce,
				PollInterval: cfg.Watch.PollInterval,
				GracePeriod:  cfg.Watch.GracePeriod,
			}).Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&inProcess, "in-process", false, "run the worker in this process instead of a child process")
	return cmd
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(opts *RootOptions) *cobra.Command {
	var (
		policy    string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Apply the recovery policy to abandoned RUNNING jobs",
		Long: `Move RUNNING jobs older than --older-than to ERROR (fail) or back to
PENDING (requeue). Refuses to run while a worker holds the active-worker
marker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.Config
			s, err := openShared(cfg)
			if err != nil {
				return err
			}
			if policy == "" {
				policy = string(cfg.Worker.Recovery)
			}
			if olderThan <= 0 {
				olderThan = cfg.Worker.Timeout
			}

			marker := workerMarker(cfg)
			ok, err := marker.TryAcquire()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("a worker is active (%s exists)", marker.Path())
			}
			defer func() { _ = marker.Release() }()

			p := job.RecoveryPolicy(policy)
			switch p {
			case job.RecoverFail, job.RecoverRequeue, job.RecoverNone:
			default:
				return fmt.Errorf("--policy must be fail, requeue or none, got %q", policy)
			}
			n, err := s.jobs.RecoverStale(cmd.Context(), olderThan, p)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recovered %d jobs\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&policy, "policy", "", "fail or requeue (default worker.recovery)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum RUNNING age (default worker.timeout)")
	return cmd
}
