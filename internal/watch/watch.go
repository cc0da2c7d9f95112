// Package watch turns file-change notifications and a periodic ticker into a
// single stream of trigger events.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event asks the consumer to run a cycle. Name is the slash-separated path of
// the changed file relative to its watched directory; it is empty for
// periodic ticks.
type Event struct {
	Name     string
	Periodic bool
}

func (e Event) Reason() string {
	if e.Periodic {
		return "periodic"
	}
	return "changed:" + e.Name
}

type Source struct {
	dirs     []string
	match    func(name string) bool
	interval  time.Duration
	debounce  *Debouncer
	recursive bool
}

type Option func(*Source)

// WithMatch limits file events to relative paths accepted by fn.
func WithMatch(fn func(name string) bool) Option {
	return func(s *Source) { s.match = fn }
}

func WithDebounce(d time.Duration) Option {
	return func(s *Source) { s.debounce = NewDebouncer(d) }
}

// WithRecursive also watches every subdirectory, including ones created
// while running.
func WithRecursive() Option {
	return func(s *Source) { s.recursive = true }
}

// WithInterval enables periodic events. Zero disables them.
func WithInterval(d time.Duration) Option {
	return func(s *Source) { s.interval = d }
}

func NewSource(dirs []string, opts ...Option) *Source {
	s := &Source{dirs: dirs, debounce: NewDebouncer(0)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run emits events on out until ctx is done. Sends never block: when the
// consumer is busy the event is dropped, since the next cycle rereads all
// state anyway. Directories that cannot be watched are logged and left to
// the periodic ticker.
func (s *Source) Run(ctx context.Context, out chan<- Event) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	defer s.debounce.Stop()

	watched := 0
	seen := map[string]bool{}
	var roots []string
	for _, d := range s.dirs {
		d = filepath.Clean(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		if err := w.Add(d); err != nil {
			slog.Warn("watch: cannot watch directory, relying on polling", "dir", d, "error", err)
			continue
		}
		roots = append(roots, d)
		watched++
		if s.recursive {
			s.addTree(w, d, nil)
		}
	}
	if watched == 0 && s.interval <= 0 {
		return fmt.Errorf("nothing to watch in %v and polling disabled", s.dirs)
	}

	var tick <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}

	send := func(e Event) {
		select {
		case out <- e:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			emit := func(path string) {
				name, ok := relative(roots, path)
				if !ok || (s.match != nil && !s.match(name)) {
					return
				}
				s.debounce.Trigger(name, func() { send(Event{Name: name}) })
			}
			if s.recursive && ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					// Files written before the watch was added only show up here.
					s.addTree(w, ev.Name, emit)
					continue
				}
			}
			emit(ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch: notification error", "error", err)
		case <-tick:
			send(Event{Periodic: true})
		}
	}
}

// addTree watches the directories below root. When found is set it is
// called for every regular file on the way.
func (s *Source) addTree(w *fsnotify.Watcher, root string, found func(path string)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if found != nil {
				found(path)
			}
			return nil
		}
		if path == root && found == nil {
			return nil
		}
		if err := w.Add(path); err != nil {
			slog.Warn("watch: cannot watch subdirectory", "dir", path, "error", err)
			return fs.SkipDir
		}
		return nil
	})
}

// relative returns path relative to the watched root containing it.
func relative(roots []string, path string) (string, bool) {
	for _, r := range roots {
		rel, err := filepath.Rel(r, path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.ToSlash(rel), true
	}
	return "", false
}

// Debouncer fires the first trigger for a key immediately and suppresses
// further triggers for that key within the window. If any were suppressed,
// one trailing call runs when the window closes, so the last change is never
// lost.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	last    map[string]time.Time
	pending map[string]*time.Timer
	now     func() time.Time
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		last:    map[string]time.Time{},
		pending: map[string]*time.Timer{},
		now:     time.Now,
	}
}

// Trigger reports whether fire ran immediately.
func (d *Debouncer) Trigger(key string, fire func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	last, ok := d.last[key]
	if !ok || now.Sub(last) >= d.window {
		d.last[key] = now
		fire()
		return true
	}

	if _, scheduled := d.pending[key]; !scheduled {
		d.pending[key] = time.AfterFunc(d.window-now.Sub(last), func() {
			d.mu.Lock()
			delete(d.pending, key)
			d.last[key] = d.now()
			d.mu.Unlock()
			fire()
		})
	}
	return false
}

// Stop cancels trailing calls that have not run yet.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.pending {
		t.Stop()
		delete(d.pending, k)
	}
}
