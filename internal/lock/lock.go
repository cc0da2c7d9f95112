// Package lock implements filesystem lock tokens: marker files whose
// existence means "held" and whose modification time is used to detect
// abandoned holders. They work on network shares where flock does not.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
)

const defaultPollInterval = 100 * time.Millisecond

// ErrNotOwner is returned when the token on disk belongs to another
// acquisition, typically because ours went stale and was reclaimed.
var ErrNotOwner = errors.New("lock token held by another owner")

// Owner is written into the token body. ID identifies one acquisition and is
// what Release and Touch check before acting.
type Owner struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Token tracks at most one acquisition at a time. Goroutines that may hold
// the lock concurrently need their own Token.
type Token struct {
	path         string
	staleAfter   time.Duration
	pollInterval time.Duration
	checkOwner   bool
	now          func() time.Time

	mu   sync.Mutex
	held string
}

type Option func(*Token)

func WithPollInterval(d time.Duration) Option {
	return func(t *Token) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithOwnerCheck treats a token as abandoned when its owner ran on this host
// and that PID no longer exists, regardless of age.
func WithOwnerCheck() Option {
	return func(t *Token) { t.checkOwner = true }
}

// WithClock overrides the clock used for staleness decisions.
func WithClock(now func() time.Time) Option {
	return func(t *Token) { t.now = now }
}

func New(path string, staleAfter time.Duration, opts ...Option) *Token {
	t := &Token{
		path:         path,
		staleAfter:   staleAfter,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Token) Path() string { return t.path }

// TryAcquire creates the token without waiting. An abandoned token is
// reclaimed first. It reports false when a live holder exists.
func (t *Token) TryAcquire() (bool, error) {
	for range 3 {
		err := t.create()
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return false, fmt.Errorf("create lock %s: %w", t.path, err)
		}

		fi, abandoned, err := t.inspect(t.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !abandoned {
			return false, nil
		}
		if err := t.reclaim(fi); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Acquire polls TryAcquire until it succeeds, ctx is done, or timeout
// elapses. Timeouts are reported as apperror.LockTimeout.
func (t *Token) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := t.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return apperror.New(apperror.LockTimeout,
				fmt.Sprintf("lock %s not acquired within %s", t.path, timeout))
		case <-ticker.C:
		}
	}
}

// Release removes the token if it is still the one this Token created.
// Releasing when nothing is held, or when the token is already gone, is not
// an error. A token now owned by someone else is left alone and ErrNotOwner
// is returned.
func (t *Token) Release() error {
	t.mu.Lock()
	id := t.held
	t.held = ""
	t.mu.Unlock()
	if id == "" {
		return nil
	}

	if err := t.owned(id); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("release lock %s: %w", t.path, err)
	}
	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", t.path, err)
	}
	return nil
}

// Touch refreshes the token's mtime so long holders are not considered
// stale. It fails with ErrNotOwner once the token has been taken over.
func (t *Token) Touch() error {
	t.mu.Lock()
	id := t.held
	t.mu.Unlock()
	if id == "" {
		return fmt.Errorf("touch lock %s: %w", t.path, ErrNotOwner)
	}
	if err := t.owned(id); err != nil {
		return fmt.Errorf("touch lock %s: %w", t.path, err)
	}
	now := t.now()
	return os.Chtimes(t.path, now, now)
}

// Held reports whether a live, non-abandoned token exists.
func (t *Token) Held() (bool, error) {
	_, abandoned, err := t.inspect(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !abandoned, nil
}

// Owner reads the owner record from the token body.
func (t *Token) Owner() (Owner, error) {
	return readOwner(t.path)
}

func readOwner(path string) (Owner, error) {
	var o Owner
	data, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("decode lock owner: %w", err)
	}
	return o, nil
}

func (t *Token) owned(id string) error {
	o, err := readOwner(t.path)
	if err != nil {
		return err
	}
	if o.ID != id {
		return ErrNotOwner
	}
	return nil
}

func (t *Token) create() error {
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	o := Owner{ID: uuid.NewString(), PID: os.Getpid(), Host: hostname(), AcquiredAt: t.now()}
	body, _ := json.Marshal(o)
	_, werr := f.Write(append(body, '\n'))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(t.path)
		return err
	}

	t.mu.Lock()
	t.held = o.ID
	t.mu.Unlock()
	return nil
}

// inspect stats the token at path and reports whether it is abandoned.
func (t *Token) inspect(path string) (fs.FileInfo, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if t.now().Sub(fi.ModTime()) >= t.staleAfter {
		return fi, true, nil
	}
	if !t.checkOwner {
		return fi, false, nil
	}

	o, err := readOwner(path)
	if err != nil || o.PID <= 0 || o.Host != hostname() {
		return fi, false, nil
	}
	alive, err := process.PidExists(int32(o.PID))
	if err != nil {
		return fi, false, nil
	}
	return fi, !alive, nil
}

// reclaim moves the abandoned token described by stale aside before
// deleting it. If what was moved is not that token, a fresh holder won the
// race and its token is put back.
func (t *Token) reclaim(stale fs.FileInfo) error {
	aside := t.path + ".stale-" + strconv.Itoa(os.Getpid()) + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.Rename(t.path, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reclaim lock %s: %w", t.path, err)
	}

	moved, err := os.Stat(aside)
	if err != nil {
		return fmt.Errorf("reclaim lock %s: %w", t.path, err)
	}
	if os.SameFile(stale, moved) && moved.ModTime().Equal(stale.ModTime()) {
		if err := os.Remove(aside); err != nil {
			return fmt.Errorf("reclaim lock %s: %w", t.path, err)
		}
		return nil
	}

	if err := restore(aside, t.path); err != nil {
		_ = os.Remove(aside)
		return fmt.Errorf("reclaim lock %s: restore live token: %w", t.path, err)
	}
	return nil
}

// restore puts a token moved aside back at path without replacing a token
// created there since. Filesystems without hard links fall back to a rename
// after checking path is still free.
func restore(aside, path string) error {
	err := os.Link(aside, path)
	if err == nil {
		return os.Remove(aside)
	}
	if errors.Is(err, fs.ErrExist) {
		return err
	}
	if _, serr := os.Lstat(path); serr == nil {
		return fs.ErrExist
	}
	return os.Rename(aside, path)
}

var hostName string

func init() {
	hostName, _ = os.Hostname()
}

func hostname() string { return hostName }
