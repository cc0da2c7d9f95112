package table

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/lock"
)

const (
	DefaultLockTimeout    = 30 * time.Second
	DefaultLockStaleAfter = 2 * time.Minute
)

// Store gives locked access to one CSV file. Every operation takes the
// sibling "<file>.lock" token for its whole duration.
type Store struct {
	path    string
	header  []string
	timeout time.Duration
	stale   time.Duration
	poll    time.Duration
}

type Option func(*Store)

// WithHeader sets the header used for a missing or empty file.
func WithHeader(cols ...string) Option {
	return func(s *Store) { s.header = cols }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLockStaleAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.stale = d
		}
	}
}

func WithLockPollInterval(d time.Duration) Option {
	return func(s *Store) { s.poll = d }
}

func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:    path,
		timeout: DefaultLockTimeout,
		stale:   DefaultLockStaleAfter,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Path() string     { return s.path }
func (s *Store) LockPath() string { return s.path + ".lock" }

// Read returns the table. A missing or empty file yields an empty table with
// the default header. When the lock cannot be taken the empty table is
// returned together with the error.
func (s *Store) Read(ctx context.Context) (*Table, error) {
	var t *Table
	err := s.WithLock(ctx, func() error {
		var err error
		t, err = s.load()
		return err
	})
	if err != nil {
		return New(s.header...), err
	}
	return t, nil
}

func (s *Store) Write(ctx context.Context, t *Table) error {
	data, err := t.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(s.path), err)
	}
	return s.WithLock(ctx, func() error { return s.store(data) })
}

// Update runs a read-modify-write cycle with the lock held throughout.
// Nothing is written when fn returns an error.
func (s *Store) Update(ctx context.Context, fn func(*Table) error) error {
	return s.WithLock(ctx, func() error {
		t, err := s.load()
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		data, err := t.Encode()
		if err != nil {
			return fmt.Errorf("encode %s: %w", filepath.Base(s.path), err)
		}
		return s.store(data)
	})
}

// ReadRaw returns the file bytes; a missing file reads as empty.
func (s *Store) ReadRaw(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.WithLock(ctx, func() error {
		var err error
		data, err = s.ReadRawLocked()
		return err
	})
	return data, err
}

func (s *Store) WriteRaw(ctx context.Context, data []byte) error {
	return s.WithLock(ctx, func() error { return s.store(data) })
}

// CompareAndSwap writes data only if the current content still hashes to
// expected (see Hash). It reports whether the write happened.
func (s *Store) CompareAndSwap(ctx context.Context, expected string, data []byte) (bool, error) {
	swapped := false
	err := s.WithLock(ctx, func() error {
		cur, err := s.ReadRawLocked()
		if err != nil {
			return err
		}
		if Hash(cur) != expected {
			return nil
		}
		swapped = true
		return s.store(data)
	})
	return swapped, err
}

// WithLock runs fn while holding the table lock. Once acquired, fn runs to
// completion even if ctx is cancelled.
func (s *Store) WithLock(ctx context.Context, fn func() error) error {
	tok := lock.New(s.LockPath(), s.stale, lock.WithPollInterval(s.poll))
	if err := tok.Acquire(ctx, s.timeout); err != nil {
		return err
	}
	defer func() {
		if err := tok.Release(); err != nil {
			slog.Warn("table lock lost before release", "table", filepath.Base(s.path), "error", err)
		}
	}()
	return fn()
}

// ReadRawLocked reads the file without taking the lock. The caller must hold
// it via WithLock.
func (s *Store) ReadRawLocked() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(s.path), err)
	}
	return data, nil
}

// WriteRawLocked replaces the file without taking the lock. The caller must
// hold it via WithLock.
func (s *Store) WriteRawLocked(data []byte) error { return s.store(data) }

func (s *Store) load() (*Table, error) {
	data, err := s.ReadRawLocked()
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(s.path), err)
	}
	if len(t.Header) == 0 {
		return New(s.header...), nil
	}
	return t, nil
}

func (s *Store) store(data []byte) error { return WriteFileAtomic(s.path, data) }

// WriteFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", base, err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", base, err)
	}
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		return fmt.Errorf("chmod %s: %w", base, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", base, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", base, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", base, err)
	}
	return nil
}
