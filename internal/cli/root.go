// Package cli implements the jobbridge command line.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/jobbridge/internal/config"
)

// RootOptions holds global flags and the config loaded from them.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	Config  config.Config
	cleanup func() error
}

// NewRootCommand creates the root command for the jobbridge CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobbridge",
		Short: "Replicated job queue between a producer and a data terminal",
		Long: `jobbridge moves jobs between a producer machine and a machine with
terminal access. Both sides share only two directories of CSV tables: the
producer enqueues into its copy, the bridge merges the two copies, and a
worker on the terminal side drains the queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default jobbridge.yaml in . or $HOME/.config/jobbridge)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewBridgeCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	logger, cleanup, err := config.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	o.Config = cfg
	o.cleanup = cleanup
	return nil
}

func (o *RootOptions) close() {
	if o.cleanup == nil {
		return
	}
	if err := o.cleanup(); err != nil {
		slog.Error("close log file", "error", err)
	}
	o.cleanup = nil
}

// Execute runs the command line with args under ctx.
func Execute(ctx context.Context, args []string) error {
	opts := &RootOptions{}
	defer opts.close()

	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
