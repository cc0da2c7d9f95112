package job

import (
	"context"
	"fmt"
	"log/slog"
)

// Processor handles execution of a claimed job. It reports progress through
// the Repository and returns an error when the job failed.
type Processor interface {
	Process(ctx context.Context, j *Job) error
}

type ProcessorFunc func(ctx context.Context, j *Job) error

func (f ProcessorFunc) Process(ctx context.Context, j *Job) error { return f(ctx, j) }

// Summary counts the jobs a worker run finished.
type Summary struct {
	Completed int
	Failed    int
}

func (s Summary) OK() bool { return s.Failed == 0 }

// Worker drains the queue once: it claims pending jobs one at a time until
// none are left and makes sure each claimed job ends COMPLETED or ERROR.
type Worker struct {
	repo      Repository
	processor Processor
}

func NewWorker(repo Repository, processor Processor) *Worker {
	return &Worker{repo: repo, processor: processor}
}

// Run returns when no pending job remains, when claiming fails, or when ctx
// is cancelled. A job interrupted by cancellation is left RUNNING.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		j, err := w.repo.ClaimNext(ctx)
		if err != nil {
			return sum, fmt.Errorf("claim next: %w", err)
		}
		if j == nil {
			slog.Info("worker: no more pending jobs", "completed", sum.Completed, "failed", sum.Failed)
			return sum, nil
		}

		slog.Info("worker: processing job", "job", j.ID, "reportDate", j.AsOf.Format(DateFormat))

		procErr := w.process(ctx, j)
		if procErr != nil && ctx.Err() != nil {
			slog.Warn("worker: interrupted, leaving job running", "job", j.ID, "error", procErr)
			return sum, ctx.Err()
		}

		if w.finalize(context.WithoutCancel(ctx), j.ID, procErr) {
			sum.Completed++
		} else {
			sum.Failed++
		}
	}
}

func (w *Worker) process(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unhandled error: %v", r)
		}
	}()
	return w.processor.Process(ctx, j)
}

// finalize moves a job the processor left RUNNING into a terminal state and
// reports whether it ended COMPLETED.
func (w *Worker) finalize(ctx context.Context, id int64, procErr error) bool {
	status := StatusRunning
	if cur, err := w.repo.Get(ctx, id); err == nil {
		status = cur.Status
	} else {
		slog.Error("worker: read job state", "job", id, "error", err)
	}

	switch {
	case status == StatusCompleted:
		if procErr != nil {
			slog.Warn("worker: processor failed after completing job", "job", id, "error", procErr)
		}
		slog.Info("worker: job completed", "job", id)
		return true
	case status == StatusError:
		slog.Error("worker: job failed", "job", id, "error", procErr)
		return false
	case procErr != nil:
		slog.Error("worker: job failed", "job", id, "error", procErr)
		if err := w.repo.Update(ctx, id, Fail(procErr.Error())); err != nil {
			slog.Error("worker: mark job as error", "job", id, "error", err)
		}
		return false
	default:
		if err := w.repo.Update(ctx, id, Update{Status: ptr(StatusCompleted)}); err != nil {
			slog.Error("worker: mark job as completed", "job", id, "error", err)
			return false
		}
		slog.Info("worker: job completed", "job", id)
		return true
	}
}
