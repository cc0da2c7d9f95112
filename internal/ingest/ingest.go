// Package ingest loads finished jobs' results on the producer side into the
// results database and acknowledges them by removing them from the job table.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/repository/cashflow"
	"github.com/ahmethakanbesel/jobbridge/internal/result"
)

// Store persists a job's results together with its ack.
type Store interface {
	SaveJob(ctx context.Context, ack cashflow.Ack, cashflows, chars []result.Row) (cashflow.Ack, error)
	AckedJobs(ctx context.Context, ids []int64) (map[int64]bool, error)
}

type Summary struct {
	Acked   int
	Removed int
	Failed  int
}

type Service struct {
	jobs      job.Repository
	cashflows result.Repository
	chars     result.Repository
	store     Store
}

func NewService(jobs job.Repository, cashflows, chars result.Repository, store Store) *Service {
	return &Service{jobs: jobs, cashflows: cashflows, chars: chars, store: store}
}

// Run ingests every COMPLETED or ERROR job in the job table. Jobs are removed
// from the table only after their results are committed, so a failure part
// way leaves the remaining jobs for the next run.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("list jobs: %w", err)
	}

	var finished []job.Job
	var ids []int64
	for _, j := range jobs {
		if j.Status.Terminal() {
			finished = append(finished, j)
			ids = append(ids, j.ID)
		}
	}
	if len(finished) == 0 {
		slog.Debug("ingest: no finished jobs")
		return sum, nil
	}

	acked, err := s.store.AckedJobs(ctx, ids)
	if err != nil {
		return sum, err
	}

	var done []int64
	var errs []error
	for i := range finished {
		j := &finished[i]
		if acked[j.ID] {
			// Saved by an earlier run that stopped before removing the row.
			done = append(done, j.ID)
			continue
		}
		ack, err := s.ingest(ctx, j)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			slog.Error("ingest: job failed", "job", j.ID, "error", err)
			errs = append(errs, fmt.Errorf("job %d: %w", j.ID, err))
			sum.Failed++
			continue
		}
		slog.Info("ingest: job acknowledged", "job", j.ID, "status", j.Status,
			"cashflows", ack.Cashflows, "characteristics", ack.Characteristics)
		done = append(done, j.ID)
		sum.Acked++
	}

	if len(done) > 0 {
		n, err := s.jobs.Remove(ctx, done...)
		if err != nil {
			errs = append(errs, err)
		}
		sum.Removed = n
	}
	return sum, errors.Join(errs...)
}

func (s *Service) ingest(ctx context.Context, j *job.Job) (cashflow.Ack, error) {
	flows, err := s.cashflows.ListByJob(ctx, j.ID)
	if err != nil {
		return cashflow.Ack{}, fmt.Errorf("read cashflows: %w", err)
	}
	chars, err := s.chars.ListByJob(ctx, j.ID)
	if err != nil {
		return cashflow.Ack{}, fmt.Errorf("read characteristics: %w", err)
	}
	return s.store.SaveJob(ctx, cashflow.Ack{
		JobID:        j.ID,
		Status:       j.Status,
		AsOf:         j.AsOf,
		ErrorMessage: j.ErrorMessage,
		CompletedAt:  j.CompletedAt,
	}, flows, chars)
}
