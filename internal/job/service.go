package job

import (
	"context"
	"log/slog"
	"time"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RecoverStaleJobs applies policy to RUNNING jobs older than olderThan.
// Callers must make sure no worker is active, otherwise a live job could be
// recovered out from under it.
func (s *Service) RecoverStaleJobs(ctx context.Context, olderThan time.Duration, policy RecoveryPolicy) error {
	if policy == RecoverNone || policy == "" {
		return nil
	}
	n, err := s.repo.RecoverStale(ctx, olderThan, policy)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("recovered abandoned running jobs", "count", n, "policy", policy)
	}
	return nil
}

func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	j := &Job{
		ID:      req.ID,
		Payload: string(req.Payload),
		AsOf:    req.AsOf,
	}
	if err := s.repo.Enqueue(ctx, j); err != nil {
		return nil, err
	}
	slog.Info("job enqueued", "job", j.ID, "reportDate", j.AsOf.Format(DateFormat))
	return j, nil
}

func (s *Service) Get(ctx context.Context, req GetJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

func (s *Service) List(ctx context.Context, req ListJobsRequest) ([]Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if req.Status == "" {
		return jobs, nil
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.Status == req.Status {
			out = append(out, j)
		}
	}
	return out, nil
}
