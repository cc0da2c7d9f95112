package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahmethakanbesel/jobbridge/internal/cli"
)

func main() {
	// Root context: cancelled on SIGINT/SIGTERM so long-running commands
	// (watch, bridge, serve) stop accepting triggers and drain.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	go func() {
		select {
		case sig := <-done:
			slog.Info("received signal, shutting down", "signal", sig)
			rootCancel()
		case <-rootCtx.Done():
		}
	}()

	if err := cli.Execute(rootCtx, os.Args[1:]); err != nil {
		slog.Error("jobbridge failed", "error", err)
		rootCancel()
		os.Exit(1)
	}
}
