package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
)

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(opts *RootOptions) *cobra.Command {
	var (
		id          int64
		asOf        string
		instruments string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a job to the producer-side queue",
		Long: `Append a PENDING job to the job table in local_dir. The bridge carries
it to the terminal side.

Example:
  jobbridge enqueue --as-of 2024-06-30 --instruments '[{"pk2":"P1","isin":"XS0000000001"}]'
  jobbridge enqueue --instruments @instruments.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openLocal(opts.Config)
			if err != nil {
				return err
			}
			date := time.Now().UTC().Truncate(24 * time.Hour)
			if asOf != "" {
				if date, err = time.Parse(job.DateFormat, asOf); err != nil {
					return fmt.Errorf("invalid --as-of %q, expected YYYY-MM-DD", asOf)
				}
			}
			payload, err := readPayload(instruments)
			if err != nil {
				return err
			}

			j, err := job.NewService(s.jobs).Enqueue(cmd.Context(), job.EnqueueRequest{
				ID:      id,
				AsOf:    date,
				Payload: payload,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), j.ID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "job id (default next free id)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "report date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&instruments, "instruments", "", "instruments JSON, or @file to read it from a file")
	_ = cmd.MarkFlagRequired("instruments")
	return cmd
}

func readPayload(s string) (json.RawMessage, error) {
	if path, ok := strings.CutPrefix(s, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read instruments: %w", err)
		}
		return json.RawMessage(data), nil
	}
	return json.RawMessage(s), nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var (
		sideName string
		status   string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the job table of one side",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s side
			var err error
			switch sideName {
			case "p":
				s, err = openLocal(opts.Config)
			case "t":
				s, err = openShared(opts.Config)
			default:
				return fmt.Errorf("--side must be p or t, got %q", sideName)
			}
			if err != nil {
				return err
			}

			jobs, err := job.NewService(s.jobs).List(cmd.Context(), job.ListJobsRequest{
				Status: job.Status(strings.ToUpper(status)),
			})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			return printJobs(cmd, jobs)
		},
	}

	cmd.Flags().StringVar(&sideName, "side", "p", "p (producer, local_dir) or t (terminal, shared_dir)")
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printJobs(cmd *cobra.Command, jobs []job.Job) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tREPORT DATE\tSTATUS\tTOTAL\tFETCHED\tSKIPPED\tPROGRESS\tERROR")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			j.ID, j.AsOf.Format(job.DateFormat), j.Status, j.Total, j.Fetched, j.Skipped,
			j.Progress, job.Truncate(j.ErrorMessage, 60))
	}
	return tw.Flush()
}
