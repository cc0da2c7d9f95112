// Package trigger decides when to run the worker: it guards runs with the
// active-worker marker, checks for pending jobs and bounds each run.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/lock"
)

type Outcome int

const (
	OutcomeBusy Outcome = iota
	OutcomeIdle
	OutcomeRan
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBusy:
		return "busy"
	case OutcomeIdle:
		return "idle"
	case OutcomeRan:
		return "ran"
	default:
		return "failed"
	}
}

// Runner executes one worker pass.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type CheckerConfig struct {
	// WorkerTimeout bounds a worker run. RUNNING jobs older than this are
	// handled by Recovery.
	WorkerTimeout time.Duration
	Recovery      job.RecoveryPolicy
	// Heartbeat is how often the marker is touched during a run.
	Heartbeat time.Duration
}

type Checker struct {
	jobs   job.Repository
	svc    *job.Service
	marker *lock.Token
	runner Runner
	cfg    CheckerConfig
}

func NewChecker(jobs job.Repository, marker *lock.Token, runner Runner, cfg CheckerConfig) *Checker {
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = 30 * time.Minute
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Minute
	}
	return &Checker{
		jobs:   jobs,
		svc:    job.NewService(jobs),
		marker: marker,
		runner: runner,
		cfg:    cfg,
	}
}

// MaybeRun starts a worker if none is active and a job is pending. It is
// safe to call from any number of trigger sources.
func (c *Checker) MaybeRun(ctx context.Context, reason string) (Outcome, error) {
	ok, err := c.marker.TryAcquire()
	if err != nil {
		return OutcomeFailed, fmt.Errorf("acquire worker marker: %w", err)
	}
	if !ok {
		slog.Info("trigger: worker already active, skipping", "reason", reason)
		return OutcomeBusy, nil
	}
	defer func() {
		if err := c.marker.Release(); err != nil {
			slog.Error("trigger: release worker marker", "error", err)
		}
	}()

	// The marker is ours, so no worker on this machine owns a RUNNING row.
	if err := c.svc.RecoverStaleJobs(ctx, c.cfg.WorkerTimeout, c.cfg.Recovery); err != nil {
		slog.Warn("trigger: recover stale jobs", "error", err)
	}

	pending, err := c.jobs.HasPending(ctx)
	if err != nil {
		return OutcomeIdle, fmt.Errorf("check pending jobs: %w", err)
	}
	if !pending {
		slog.Debug("trigger: no pending jobs", "reason", reason)
		return OutcomeIdle, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.WorkerTimeout)
	defer cancel()
	stop := c.heartbeat(runCtx)

	slog.Info("trigger: starting worker", "reason", reason, "timeout", c.cfg.WorkerTimeout.String())
	start := time.Now()
	err = c.runner.Run(runCtx)
	stop()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("worker exceeded %s timeout: %w", c.cfg.WorkerTimeout, context.DeadlineExceeded)
	}
	if err != nil {
		slog.Error("trigger: worker failed", "reason", reason, "duration", time.Since(start).String(), "error", err)
		return OutcomeFailed, err
	}
	slog.Info("trigger: worker finished", "reason", reason, "duration", time.Since(start).String())
	return OutcomeRan, nil
}

// Cycle adapts MaybeRun to watch.CycleFunc.
func (c *Checker) Cycle(ctx context.Context, reason string) {
	if _, err := c.MaybeRun(ctx, reason); err != nil {
		slog.Warn("trigger: cycle", "reason", reason, "error", err)
	}
}

func (c *Checker) heartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(c.cfg.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.marker.Touch(); err != nil {
					slog.Warn("trigger: refresh worker marker", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
