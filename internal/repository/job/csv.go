package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
	domain "github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/table"
)

// errUnchanged aborts a store update without rewriting the file.
var errUnchanged = errors.New("unchanged")

// Repository keeps jobs in a CSV table. Rows are edited cell by cell, so
// columns this program does not know about survive every rewrite.
type Repository struct {
	store *table.Store
	now   func() time.Time
}

func NewRepository(store *table.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

// NewStore opens the job table at path with the job header as default.
func NewStore(path string, opts ...table.Option) *table.Store {
	return table.NewStore(path, append([]table.Option{table.WithHeader(domain.Columns...)}, opts...)...)
}

func (r *Repository) Store() *table.Store { return r.store }

func (r *Repository) update(ctx context.Context, fn func(*table.Table) error) error {
	err := r.store.Update(ctx, fn)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (r *Repository) Enqueue(ctx context.Context, j *domain.Job) error {
	err := r.update(ctx, func(t *table.Table) error {
		t.EnsureColumns(domain.Columns...)

		floor, err := r.removedHighWater()
		if err != nil {
			return err
		}
		if j.ID != 0 && j.ID <= floor {
			return apperror.New(apperror.DuplicateJobID, fmt.Sprintf("job %d was already issued", j.ID))
		}

		var maxID int64
		for i := range t.Rows {
			id, err := table.ParseInt(t.Get(i, domain.ColID))
			if err != nil {
				continue
			}
			if id == j.ID {
				return apperror.New(apperror.DuplicateJobID, fmt.Sprintf("job %d already exists", j.ID))
			}
			maxID = max(maxID, id)
		}
		if j.ID == 0 {
			j.ID = max(maxID, floor) + 1
		}

		now := r.now()
		j.Status = domain.StatusPending
		if j.CreatedAt == nil {
			j.CreatedAt = &now
		}
		j.StartedAt, j.CompletedAt = nil, nil
		t.AppendRecord(encode(j))
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// ClaimNext moves the lowest-id PENDING job to RUNNING. The whole
// select-and-flip happens under the table lock.
func (r *Repository) ClaimNext(ctx context.Context) (*domain.Job, error) {
	var claimed *domain.Job
	err := r.update(ctx, func(t *table.Table) error {
		best, bestID := -1, int64(0)
		for i := range t.Rows {
			if status(t, i) != domain.StatusPending {
				continue
			}
			id, err := table.ParseInt(t.Get(i, domain.ColID))
			if err != nil {
				slog.Warn("skipping job row with invalid id", "row", i+1, "value", t.Get(i, domain.ColID))
				continue
			}
			if best < 0 || id < bestID {
				best, bestID = i, id
			}
		}
		if best < 0 {
			return errUnchanged
		}

		t.Set(best, domain.ColID, table.FormatInt(bestID))
		t.Set(best, domain.ColStatus, string(domain.StatusRunning))
		t.Set(best, domain.ColStartedAt, formatTime(r.now()))

		j := decode(t, best)
		claimed = &j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return claimed, nil
}

// Update applies u to job id. Fields whose column is missing from the file
// are ignored and an unknown id is a no-op.
func (r *Repository) Update(ctx context.Context, id int64, u domain.Update) error {
	err := r.update(ctx, func(t *table.Table) error {
		i := findRow(t, id)
		if i < 0 {
			return errUnchanged
		}
		now := r.now()

		if u.Status != nil {
			cur, next := status(t, i), *u.Status
			if cur != next {
				if !cur.CanTransition(next) {
					return apperror.New(apperror.InvalidTransition,
						fmt.Sprintf("job %d: %s -> %s not allowed", id, cur, next))
				}
				t.Set(i, domain.ColStatus, string(next))
				if next == domain.StatusRunning {
					t.Set(i, domain.ColStartedAt, formatTime(orNow(u.StartedAt, now)))
				}
				if next.Terminal() {
					t.Set(i, domain.ColCompletedAt, formatTime(orNow(u.CompletedAt, now)))
				}
			}
		}
		if u.ErrorMessage != nil {
			t.Set(i, domain.ColErrorMessage, domain.Truncate(*u.ErrorMessage, domain.MaxErrorLen))
		}
		if u.Progress != nil {
			t.Set(i, domain.ColProgress, *u.Progress)
		}
		if u.Total != nil {
			t.Set(i, domain.ColTotal, strconv.Itoa(*u.Total))
		}
		if u.Fetched != nil {
			t.Set(i, domain.ColFetched, strconv.Itoa(*u.Fetched))
		}
		if u.Skipped != nil {
			t.Set(i, domain.ColSkipped, strconv.Itoa(*u.Skipped))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	t, err := r.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	i := findRow(t, id)
	if i < 0 {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("job %d not found", id))
	}
	j := decode(t, i)
	return &j, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Job, error) {
	t, err := r.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]domain.Job, 0, t.Len())
	for i := range t.Rows {
		if _, err := table.ParseInt(t.Get(i, domain.ColID)); err != nil {
			continue
		}
		jobs = append(jobs, decode(t, i))
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs, nil
}

// HasPending reports false together with the error when the table cannot be
// read, so callers can treat the queue as empty for this cycle.
func (r *Repository) HasPending(ctx context.Context) (bool, error) {
	t, err := r.store.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	for i := range t.Rows {
		if status(t, i) == domain.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

// RecoverStale handles RUNNING jobs started more than olderThan ago. Rows
// without a readable started_at count as stale.
func (r *Repository) RecoverStale(ctx context.Context, olderThan time.Duration, policy domain.RecoveryPolicy) (int64, error) {
	if policy != domain.RecoverFail && policy != domain.RecoverRequeue {
		return 0, nil
	}

	var n int64
	err := r.update(ctx, func(t *table.Table) error {
		now := r.now()
		for i := range t.Rows {
			if status(t, i) != domain.StatusRunning {
				continue
			}
			if started, ok := parseTime(t.Get(i, domain.ColStartedAt)); ok && now.Sub(started) < olderThan {
				continue
			}

			switch policy {
			case domain.RecoverFail:
				t.Set(i, domain.ColStatus, string(domain.StatusError))
				t.Set(i, domain.ColCompletedAt, formatTime(now))
				t.Set(i, domain.ColErrorMessage, fmt.Sprintf("abandoned: worker did not finish within %s", olderThan))
			case domain.RecoverRequeue:
				t.Set(i, domain.ColStatus, string(domain.StatusPending))
				t.Set(i, domain.ColStartedAt, "")
				t.Set(i, domain.ColProgress, "requeued after abandoned run")
			}
			n++
		}
		if n == 0 {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	return n, nil
}

// Remove deletes the given jobs and returns how many rows were removed.
func (r *Repository) Remove(ctx context.Context, ids ...int64) (int, error) {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	removed := 0
	err := r.update(ctx, func(t *table.Table) error {
		var highest int64
		kept := t.Rows[:0]
		for i, row := range t.Rows {
			id, err := table.ParseInt(t.Get(i, domain.ColID))
			if err == nil && drop[id] {
				removed++
				highest = max(highest, id)
				continue
			}
			kept = append(kept, row)
		}
		if removed == 0 {
			return errUnchanged
		}
		if err := r.raiseHighWater(highest); err != nil {
			return err
		}
		t.Rows = kept
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove jobs: %w", err)
	}
	return removed, nil
}

// seqPath holds the highest id ever removed from the table. Ids at or below
// it are never handed out again. Callers hold the table lock.
func (r *Repository) seqPath() string { return r.store.Path() + ".seq" }

func (r *Repository) removedHighWater() (int64, error) {
	data, err := os.ReadFile(r.seqPath())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read id sequence: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id sequence %q: %w", v, err)
	}
	return n, nil
}

func (r *Repository) raiseHighWater(id int64) error {
	cur, err := r.removedHighWater()
	if err != nil {
		return err
	}
	if id <= cur {
		return nil
	}
	return table.WriteFileAtomic(r.seqPath(), []byte(strconv.FormatInt(id, 10)+"\n"))
}

func findRow(t *table.Table, id int64) int {
	for i := range t.Rows {
		if n, err := table.ParseInt(t.Get(i, domain.ColID)); err == nil && n == id {
			return i
		}
	}
	return -1
}

func status(t *table.Table, i int) domain.Status {
	return domain.Status(strings.ToUpper(strings.TrimSpace(t.Get(i, domain.ColStatus))))
}

func decode(t *table.Table, i int) domain.Job {
	id, _ := table.ParseInt(t.Get(i, domain.ColID))
	j := domain.Job{
		ID:           id,
		Payload:      t.Get(i, domain.ColPayload),
		Status:       status(t, i),
		ErrorMessage: t.Get(i, domain.ColErrorMessage),
		Total:        atoi(t.Get(i, domain.ColTotal)),
		Fetched:      atoi(t.Get(i, domain.ColFetched)),
		Skipped:      atoi(t.Get(i, domain.ColSkipped)),
		Progress:     t.Get(i, domain.ColProgress),
	}
	if asOf, ok := parseTime(t.Get(i, domain.ColAsOf)); ok {
		j.AsOf = asOf
	}
	j.CreatedAt = timePtr(t.Get(i, domain.ColCreatedAt))
	j.StartedAt = timePtr(t.Get(i, domain.ColStartedAt))
	j.CompletedAt = timePtr(t.Get(i, domain.ColCompletedAt))
	return j
}

func encode(j *domain.Job) map[string]string {
	rec := map[string]string{
		domain.ColID:           table.FormatInt(j.ID),
		domain.ColPayload:      j.Payload,
		domain.ColStatus:       string(j.Status),
		domain.ColErrorMessage: j.ErrorMessage,
		domain.ColTotal:        strconv.Itoa(j.Total),
		domain.ColFetched:      strconv.Itoa(j.Fetched),
		domain.ColSkipped:      strconv.Itoa(j.Skipped),
		domain.ColProgress:     j.Progress,
	}
	if !j.AsOf.IsZero() {
		rec[domain.ColAsOf] = j.AsOf.Format(domain.DateFormat)
	}
	if j.CreatedAt != nil {
		rec[domain.ColCreatedAt] = formatTime(*j.CreatedAt)
	}
	return rec
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func timePtr(s string) *time.Time {
	t, ok := parseTime(s)
	if !ok {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string { return t.Format(domain.TimeFormat) }

func orNow(t *time.Time, now time.Time) time.Time {
	if t != nil {
		return *t
	}
	return now
}

func atoi(s string) int {
	n, err := table.ParseInt(s)
	if err != nil {
		return 0
	}
	return int(n)
}
