package watch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// CycleFunc runs one idempotent "maybe do work" pass. reason says what
// triggered it.
type CycleFunc func(ctx context.Context, reason string)

// Loop feeds events from a Source into a CycleFunc, one cycle at a time.
type Loop struct {
	name   string
	source *Source
	cycle  CycleFunc
	grace  time.Duration
}

func NewLoop(name string, source *Source, cycle CycleFunc, grace time.Duration) *Loop {
	return &Loop{name: name, source: source, cycle: cycle, grace: grace}
}

// Run performs a startup cycle, then one cycle per event. When ctx is
// cancelled no new cycles start; an in-flight cycle gets up to the grace
// period to finish before its context is cancelled too.
func (l *Loop) Run(ctx context.Context) error {
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	events := make(chan Event, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.source.Run(gctx, events) })
	g.Go(func() error {
		l.cycle(runCtx, "startup")
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				if gctx.Err() != nil {
					return nil
				}
				l.cycle(runCtx, ev.Reason())
			}
		}
	})

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
	}

	slog.Info(l.name+": shutting down, waiting for in-flight cycle", "grace", l.grace.String())
	timer := time.NewTimer(l.grace)
	defer timer.Stop()
	select {
	case err := <-waitErr:
		return err
	case <-timer.C:
		slog.Warn(l.name + ": grace period elapsed, cancelling in-flight cycle")
		cancelRuns()
		return <-waitErr
	}
}
