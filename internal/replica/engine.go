package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/table"
	"github.com/ahmethakanbesel/jobbridge/internal/watch"
)

var errUnchanged = errors.New("unchanged")

type Config struct {
	ProducerDir string
	TerminalDir string
	// JobsFile is the job table's base name in both directories.
	JobsFile string
	// ResultPatterns are doublestar globs, relative to TerminalDir, naming
	// the result tables copied to ProducerDir.
	ResultPatterns []string
	StoreOptions   []table.Option

	Debounce     time.Duration
	PollInterval time.Duration
	GracePeriod  time.Duration
}

// Engine is the bridge between the two replicas. One Engine is created per
// process; it remembers the last content it wrote and refuses to overlap
// cycles.
type Engine struct {
	cfg  Config
	p, t *table.Store

	syncing  sync.Mutex
	mu       sync.Mutex
	lastHash string
}

func NewEngine(cfg Config) *Engine {
	if cfg.JobsFile == "" {
		cfg.JobsFile = "jobs.csv"
	}
	return &Engine{
		cfg: cfg,
		p:   table.NewStore(filepath.Join(cfg.ProducerDir, cfg.JobsFile), cfg.StoreOptions...),
		t:   table.NewStore(filepath.Join(cfg.TerminalDir, cfg.JobsFile), cfg.StoreOptions...),
	}
}

// LastHash is the hash of the job table content last written or found in
// sync by SyncJobs.
func (e *Engine) LastHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastHash
}

func (e *Engine) setLastHash(h string) {
	e.mu.Lock()
	e.lastHash = h
	e.mu.Unlock()
}

// SyncJobs merges the two job tables and writes the result to each replica
// that differs from it. It reports whether anything was written. A replica
// that changed between read and write is left for the next cycle.
func (e *Engine) SyncJobs(ctx context.Context) (bool, error) {
	pRaw, err := e.p.ReadRaw(ctx)
	if err != nil {
		return false, fmt.Errorf("read producer jobs: %w", err)
	}
	tRaw, err := e.t.ReadRaw(ctx)
	if err != nil {
		return false, fmt.Errorf("read terminal jobs: %w", err)
	}

	pHash, tHash := table.Hash(pRaw), table.Hash(tRaw)
	if pHash == tHash {
		if pHash != e.LastHash() {
			slog.Debug("bridge: replicas already in sync")
		}
		e.setLastHash(pHash)
		return false, nil
	}

	pTable, err := table.Parse(pRaw)
	if err != nil {
		return false, fmt.Errorf("parse producer jobs: %w", err)
	}
	tTable, err := table.Parse(tRaw)
	if err != nil {
		return false, fmt.Errorf("parse terminal jobs: %w", err)
	}

	merged := Merge(pTable, tTable)
	if len(merged.Header) == 0 {
		merged.EnsureColumns(job.Columns...)
	}
	data, err := merged.Encode()
	if err != nil {
		return false, fmt.Errorf("encode merged jobs: %w", err)
	}
	mHash := table.Hash(data)

	wrote := false
	var errs []error
	for _, side := range []struct {
		name  string
		store *table.Store
		hash  string
	}{
		{"producer", e.p, pHash},
		{"terminal", e.t, tHash},
	} {
		if side.hash == mHash {
			continue
		}
		ok, err := side.store.CompareAndSwap(ctx, side.hash, data)
		if err != nil {
			slog.Warn("bridge: write jobs failed, retrying next cycle", "side", side.name, "error", err)
			errs = append(errs, fmt.Errorf("write %s jobs: %w", side.name, err))
			continue
		}
		if !ok {
			slog.Info("bridge: jobs changed during merge, retrying next cycle", "side", side.name)
			continue
		}
		wrote = true
	}
	if wrote {
		e.setLastHash(mHash)
		slog.Info("bridge: jobs merged", "producer_rows", pTable.Len(), "terminal_rows", tTable.Len(), "merged_rows", merged.Len())
	}
	return wrote, errors.Join(errs...)
}

// SyncResults copies every result table matching the configured patterns
// from T to P when the content differs. It returns the names copied.
func (e *Engine) SyncResults(ctx context.Context) ([]string, error) {
	names, err := e.resultFiles()
	if err != nil {
		return nil, err
	}

	var copied []string
	var errs []error
	for _, name := range names {
		changed, err := e.copyResult(ctx, name)
		if err != nil {
			slog.Warn("bridge: copy result table failed", "file", name, "error", err)
			errs = append(errs, err)
			continue
		}
		if changed {
			copied = append(copied, name)
		}
	}
	if len(copied) > 0 {
		slog.Info("bridge: result tables copied", "files", copied)
	}
	return copied, errors.Join(errs...)
}

func (e *Engine) resultFiles() ([]string, error) {
	fsys := os.DirFS(e.cfg.TerminalDir)
	seen := map[string]bool{}
	var names []string
	for _, pattern := range e.cfg.ResultPatterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("result pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || isAuxiliary(m) || m == e.cfg.JobsFile {
				continue
			}
			seen[m] = true
			names = append(names, m)
		}
	}
	sort.Strings(names)
	return names, nil
}

// copyResult holds the source lock, then the destination lock, while it
// compares and copies. The copy keeps the source mtime.
func (e *Engine) copyResult(ctx context.Context, name string) (bool, error) {
	srcPath := filepath.Join(e.cfg.TerminalDir, filepath.FromSlash(name))
	dstPath := filepath.Join(e.cfg.ProducerDir, filepath.FromSlash(name))
	src := table.NewStore(srcPath, e.cfg.StoreOptions...)
	dst := table.NewStore(dstPath, e.cfg.StoreOptions...)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(dstPath), err)
	}

	err := src.WithLock(ctx, func() error {
		return dst.WithLock(ctx, func() error {
			data, err := src.ReadRawLocked()
			if err != nil {
				return err
			}
			cur, err := dst.ReadRawLocked()
			if err != nil {
				return err
			}
			if table.Hash(data) == table.Hash(cur) {
				return errUnchanged
			}
			if err := dst.WriteRawLocked(data); err != nil {
				return err
			}
			if fi, err := os.Stat(srcPath); err == nil {
				_ = os.Chtimes(dstPath, fi.ModTime(), fi.ModTime())
			}
			return nil
		})
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("copy %s: %w", name, err)
	}
	return true, nil
}

// Cycle syncs results first so that rows are on P before the COMPLETED
// status that announces them. A cycle already running makes this a no-op.
func (e *Engine) Cycle(ctx context.Context, reason string) {
	if !e.syncing.TryLock() {
		slog.Debug("bridge: sync in progress, skipping", "reason", reason)
		return
	}
	defer e.syncing.Unlock()

	if _, err := e.SyncResults(ctx); err != nil {
		slog.Warn("bridge: result sync incomplete", "reason", reason, "error", err)
	}
	if _, err := e.SyncJobs(ctx); err != nil {
		slog.Warn("bridge: job sync incomplete", "reason", reason, "error", err)
	}
}

// Run watches both directories and syncs on every relevant change, on a
// periodic tick and once at startup.
func (e *Engine) Run(ctx context.Context) error {
	opts := []watch.Option{
		watch.WithMatch(e.relevant),
		watch.WithDebounce(e.cfg.Debounce),
		watch.WithInterval(e.cfg.PollInterval),
	}
	if e.nested() {
		opts = append(opts, watch.WithRecursive())
	}
	src := watch.NewSource([]string{e.cfg.ProducerDir, e.cfg.TerminalDir}, opts...)
	return watch.NewLoop("bridge", src, e.Cycle, e.cfg.GracePeriod).Run(ctx)
}

// nested reports whether any result pattern reaches below the top level.
func (e *Engine) nested() bool {
	for _, p := range e.cfg.ResultPatterns {
		if strings.Contains(p, "/") {
			return true
		}
	}
	return false
}

// relevant matches a path relative to either replica directory.
func (e *Engine) relevant(name string) bool {
	if isAuxiliary(name) {
		return false
	}
	if name == e.cfg.JobsFile {
		return true
	}
	for _, p := range e.cfg.ResultPatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// isAuxiliary reports lock tokens, id sequences and temp files written by
// the stores.
func isAuxiliary(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, ".seq") ||
		strings.Contains(base, ".lock.stale-") || strings.Contains(base, ".tmp-")
}
