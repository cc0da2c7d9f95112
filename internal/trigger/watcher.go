package trigger

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/watch"
)

type WatcherConfig struct {
	// JobsFile is the path of the job table to watch.
	JobsFile     string
	Debounce     time.Duration
	PollInterval time.Duration
	GracePeriod  time.Duration
}

// Watcher runs the checker on job table changes, on a periodic tick and
// once at startup.
type Watcher struct {
	loop *watch.Loop
}

func NewWatcher(checker *Checker, cfg WatcherConfig) *Watcher {
	name := filepath.Base(cfg.JobsFile)
	src := watch.NewSource([]string{filepath.Dir(cfg.JobsFile)},
		watch.WithMatch(func(n string) bool { return n == name }),
		watch.WithDebounce(cfg.Debounce),
		watch.WithInterval(cfg.PollInterval),
	)
	return &Watcher{loop: watch.NewLoop("watcher", src, checker.Cycle, cfg.GracePeriod)}
}

// Run blocks until ctx is cancelled and any in-flight run has finished or
// been cancelled after the grace period.
func (w *Watcher) Run(ctx context.Context) error {
	return w.loop.Run(ctx)
}
