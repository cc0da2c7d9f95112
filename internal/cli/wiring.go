package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/jobbridge/internal/cashflow"
	"github.com/ahmethakanbesel/jobbridge/internal/config"
	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/lock"
	jobrepo "github.com/ahmethakanbesel/jobbridge/internal/repository/job"
	resultrepo "github.com/ahmethakanbesel/jobbridge/internal/repository/result"
	"github.com/ahmethakanbesel/jobbridge/internal/retry"
	"github.com/ahmethakanbesel/jobbridge/internal/table"
	"github.com/ahmethakanbesel/jobbridge/internal/terminal"
	"github.com/ahmethakanbesel/jobbridge/internal/trigger"
)

func storeOptions(cfg config.Config) []table.Option {
	return []table.Option{
		table.WithLockTimeout(cfg.Lock.Timeout),
		table.WithLockStaleAfter(cfg.Lock.StaleAfter),
	}
}

// side holds the repositories of one replica directory.
type side struct {
	jobs      *jobrepo.Repository
	cashflows *resultrepo.Repository
	chars     *resultrepo.Repository
}

func openSide(cfg config.Config, dir string) side {
	opts := storeOptions(cfg)
	cf, ch := cashflow.CashflowSchema, cashflow.CharacteristicsSchema
	return side{
		jobs:      jobrepo.NewRepository(jobrepo.NewStore(filepath.Join(dir, cfg.JobsFile), opts...)),
		cashflows: resultrepo.NewRepository(resultrepo.NewStore(dir, cf, opts...), cf),
		chars:     resultrepo.NewRepository(resultrepo.NewStore(dir, ch, opts...), ch),
	}
}

// openShared opens the terminal-side replica.
func openShared(cfg config.Config) (side, error) {
	if err := cfg.RequireShared(); err != nil {
		return side{}, err
	}
	return openSide(cfg, cfg.SharedDir), nil
}

// openLocal opens the producer-side replica.
func openLocal(cfg config.Config) (side, error) {
	if err := cfg.RequireLocal(); err != nil {
		return side{}, err
	}
	return openSide(cfg, cfg.LocalDir), nil
}

// newTerminal builds the terminal client: every call is rate limited and
// the whole call, including its waits, is retried.
func newTerminal(cfg config.Config) (terminal.Terminal, error) {
	base, err := terminal.New(cfg.Terminal.Mode, cfg.Terminal.Fixture)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.Terminal.RatePerSecond > 0 {
		limit = rate.Limit(cfg.Terminal.RatePerSecond)
	}
	limiter := rate.NewLimiter(limit, max(cfg.Terminal.Burst, 1))
	policy := retry.Policy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay}
	return terminal.WithRetry(terminal.WithRateLimit(base, limiter), policy), nil
}

func newWorker(cfg config.Config) (*job.Worker, error) {
	s, err := openShared(cfg)
	if err != nil {
		return nil, err
	}
	term, err := newTerminal(cfg)
	if err != nil {
		return nil, err
	}
	return job.NewWorker(s.jobs, cashflow.NewProcessor(s.jobs, s.cashflows, s.chars, term)), nil
}

func workerMarker(cfg config.Config) *lock.Token {
	return lock.New(cfg.WorkerMarkerPath(), cfg.Worker.StaleAfter, lock.WithOwnerCheck())
}

// newChecker builds the checker for the terminal side. With inProcess the
// worker runs in this process; otherwise it is spawned as "jobbridge worker"
// with the same config.
func newChecker(opts *RootOptions, inProcess bool) (*trigger.Checker, error) {
	cfg := opts.Config
	s, err := openShared(cfg)
	if err != nil {
		return nil, err
	}

	var runner trigger.Runner
	if inProcess {
		w, err := newWorker(cfg)
		if err != nil {
			return nil, err
		}
		runner = trigger.InProcessRunner(w)
	} else {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		runner = &trigger.ExecRunner{
			Path:   exe,
			Args:   opts.childArgs("worker"),
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		}
	}

	return trigger.NewChecker(s.jobs, workerMarker(cfg), runner, trigger.CheckerConfig{
		WorkerTimeout: cfg.Worker.Timeout,
		Recovery:      cfg.Worker.Recovery,
	}), nil
}

// childArgs repeats the global flags for a subcommand run as a child process.
func (o *RootOptions) childArgs(sub string) []string {
	args := []string{sub}
	if o.ConfigPath != "" {
		args = append(args, "--config", o.ConfigPath)
	}
	if o.LogLevel != "" {
		args = append(args, "--log-level", o.LogLevel)
	}
	return args
}
