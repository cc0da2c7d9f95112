// Package retry wraps unreliable calls with bounded linear backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 5 * time.Second
)

// Policy bounds a retried call: Attempts total calls, waiting
// BaseDelay*n after the n-th failure.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay}
}

// linear implements backoff.BackOff with delays base, 2*base, 3*base...
type linear struct {
	base    time.Duration
	attempt int
}

func (l *linear) NextBackOff() time.Duration {
	l.attempt++
	return l.base * time.Duration(l.attempt)
}

func (l *linear) Reset() { l.attempt = 0 }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds or the policy is exhausted and returns the
// last error. A cancelled ctx stops the wait between attempts.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &linear{base: p.BaseDelay}
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return op(ctx)
	}, b, func(err error, wait time.Duration) {
		slog.Warn("retrying after failure",
			"call", name,
			"attempt", attempt,
			"of", attempts,
			"wait", wait.String(),
			"error", err,
		)
	})
}
