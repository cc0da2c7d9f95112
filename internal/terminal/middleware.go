package terminal

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
	"github.com/ahmethakanbesel/jobbridge/internal/retry"
)

type retrying struct {
	next   Terminal
	policy retry.Policy
}

// WithRetry retries every call under p. An error that survives all attempts
// is reported as EXTERNAL_CALL_FAILURE; context errors pass through.
func WithRetry(next Terminal, p retry.Policy) Terminal {
	return &retrying{next: next, policy: p}
}

func (r *retrying) Reference(ctx context.Context, securities, fields []string) (map[string]map[string]string, error) {
	name := "reference " + strings.Join(fields, ",")
	out, err := retry.Do(ctx, r.policy, name, func(ctx context.Context) (map[string]map[string]string, error) {
		return r.next.Reference(ctx, securities, fields)
	})
	return out, external(ctx, err, name, len(securities))
}

func (r *retrying) Bulk(ctx context.Context, securities []string, field string, overrides map[string]string) (map[string][]map[string]string, error) {
	name := "bulk " + field
	out, err := retry.Do(ctx, r.policy, name, func(ctx context.Context) (map[string][]map[string]string, error) {
		return r.next.Bulk(ctx, securities, field, overrides)
	})
	return out, external(ctx, err, name, len(securities))
}

func external(ctx context.Context, err error, name string, n int) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	return apperror.Wrap(apperror.ExternalCallFailure, err, fmt.Sprintf("%s for %d securities", name, n))
}

type limited struct {
	next    Terminal
	limiter *rate.Limiter
}

// WithRateLimit makes every call wait for a token from limiter.
func WithRateLimit(next Terminal, limiter *rate.Limiter) Terminal {
	return &limited{next: next, limiter: limiter}
}

func (l *limited) Reference(ctx context.Context, securities, fields []string) (map[string]map[string]string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Reference(ctx, securities, fields)
}

func (l *limited) Bulk(ctx context.Context, securities []string, field string, overrides map[string]string) (map[string][]map[string]string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Bulk(ctx, securities, field, overrides)
}
