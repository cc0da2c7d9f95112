package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
)

const stderrTail = 500

// ExecRunner runs the worker as a child process. The child's stderr is
// passed through to Stderr and its tail is kept for the failure message.
type ExecRunner struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (r *ExecRunner) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.Path, r.Args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	tail := &tailBuffer{max: 4 * stderrTail}
	cmd.Stdout = r.Stdout
	cmd.Stderr = tail
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, tail)
	}
	cmd.WaitDelay = 10 * time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("worker killed: %w", ctx.Err())
	}
	msg := lastRunes(strings.TrimSpace(tail.String()), stderrTail)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("worker exited with code %d: %s", exitErr.ExitCode(), msg)
	}
	return fmt.Errorf("start worker: %w", err)
}

// InProcessRunner drains the queue in the current process.
func InProcessRunner(w *job.Worker) Runner {
	return RunnerFunc(func(ctx context.Context) error {
		sum, err := w.Run(ctx)
		if err != nil {
			return err
		}
		if !sum.OK() {
			return fmt.Errorf("%d of %d jobs failed", sum.Failed, sum.Completed+sum.Failed)
		}
		return nil
	})
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := string(t.buf)
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
