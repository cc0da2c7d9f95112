package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
	domain "github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/table"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.csv")
	return NewRepository(NewStore(path,
		table.WithLockTimeout(10*time.Second),
		table.WithLockPollInterval(time.Millisecond),
	))
}

func writeFile(t *testing.T, r *Repository, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(r.Store().Path(), []byte(content), 0o644))
}

func readFile(t *testing.T, r *Repository) string {
	t.Helper()
	data, err := os.ReadFile(r.Store().Path())
	require.NoError(t, err)
	return string(data)
}

func enqueue(t *testing.T, r *Repository, id int64) {
	t.Helper()
	require.NoError(t, r.Enqueue(context.Background(), &domain.Job{
		ID:      id,
		Payload: `[{"pk2":"A","isin":"US0001"}]`,
		AsOf:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.Local),
	}))
}

func TestEnqueue_And_Get(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	enqueue(t, r, 1)

	got, err := r.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, `[{"pk2":"A","isin":"US0001"}]`, got.Payload)
	assert.Equal(t, "2024-01-31", got.AsOf.Format(domain.DateFormat))
	assert.NotNil(t, got.CreatedAt)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	assert.True(t, strings.HasPrefix(readFile(t, r), strings.Join(domain.Columns, ",")+"\n"))
}

func TestEnqueue_DuplicateID(t *testing.T) {
	r := setupRepo(t)
	enqueue(t, r, 4)

	err := r.Enqueue(context.Background(), &domain.Job{ID: 4, Payload: "[]"})
	assert.ErrorIs(t, err, apperror.ErrDuplicateJobID)
}

func TestEnqueue_AssignsMaxPlusOne(t *testing.T) {
	r := setupRepo(t)
	enqueue(t, r, 7)

	j := &domain.Job{Payload: "[]"}
	require.NoError(t, r.Enqueue(context.Background(), j))
	assert.Equal(t, int64(8), j.ID)
}

func TestClaimNext_LowestPendingFirst(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	for _, id := range []int64{5, 2, 9} {
		enqueue(t, r, id)
	}

	j, err := r.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, int64(2), j.ID)
	assert.Equal(t, domain.StatusRunning, j.Status)
	assert.NotNil(t, j.StartedAt)

	j, err = r.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), j.ID)
}

func TestClaimNext_NoPendingDoesNotRewrite(t *testing.T) {
	r := setupRepo(t)
	writeFile(t, r, "job_id,status\r\n1,COMPLETED\r\n")

	j, err := r.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.Equal(t, "job_id,status\r\n1,COMPLETED\r\n", readFile(t, r))
}

func TestClaimNext_MissingFile(t *testing.T) {
	j, err := setupRepo(t).ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestClaimNext_ConcurrentClaimersNeverShareAJob(t *testing.T) {
	r := setupRepo(t)
	for id := int64(1); id <= 20; id++ {
		enqueue(t, r, id)
	}

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup
	for range 4 {
		// separate repositories share only the file, like separate processes
		claimer := NewRepository(NewStore(r.Store().Path(),
			table.WithLockTimeout(10*time.Second),
			table.WithLockPollInterval(time.Millisecond)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := claimer.ClaimNext(context.Background())
				if !assert.NoError(t, err) || j == nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %d claimed %d times", id, n)
	}
}

func TestJobID_FloatRenderingNormalized(t *testing.T) {
	r := setupRepo(t)
	writeFile(t, r, "job_id,instruments_json,report_date,status\n3.0,[],2024-01-31,PENDING\n")

	j, err := r.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, int64(3), j.ID)
	assert.Contains(t, readFile(t, r), "\n3,[],2024-01-31,RUNNING")
}

func TestUpdate_PreservesUnknownColumnsAndIgnoresMissingOnes(t *testing.T) {
	r := setupRepo(t)
	writeFile(t, r, "job_id,status,requested_by\n1,PENDING,alice\n")
	ctx := context.Background()

	_, err := r.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, 1, domain.SetProgress("Fetching currencies")))
	require.NoError(t, r.Update(ctx, 1, domain.Complete("done", 3, 1)))

	tbl, err := table.Parse([]byte(readFile(t, r)))
	require.NoError(t, err)
	assert.Equal(t, []string{"job_id", "status", "requested_by"}, tbl.Header)
	assert.Equal(t, "COMPLETED", tbl.Get(0, "status"))
	assert.Equal(t, "alice", tbl.Get(0, "requested_by"))
}

func TestUpdate_StampsTimestampsOnTransitions(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	enqueue(t, r, 1)
	_, err := r.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Update(ctx, 1, domain.Fail(strings.Repeat("e", 900))))

	got, err := r.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Len(t, got.ErrorMessage, domain.MaxErrorLen)
}

func TestUpdate_RejectsTransitionOutOfTerminal(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	enqueue(t, r, 1)
	_, err := r.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, 1, domain.Complete("done", 1, 0)))

	err = r.Update(ctx, 1, domain.Fail("late failure"))
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)

	got, _ := r.Get(ctx, 1)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestUpdate_UnknownIDIsNoop(t *testing.T) {
	r := setupRepo(t)
	enqueue(t, r, 1)
	before := readFile(t, r)

	require.NoError(t, r.Update(context.Background(), 42, domain.SetProgress("x")))
	assert.Equal(t, before, readFile(t, r))
}

func TestGet_NotFound(t *testing.T) {
	_, err := setupRepo(t).Get(context.Background(), 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestHasPending(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()

	ok, err := r.HasPending(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// a payload mentioning PENDING must not count
	writeFile(t, r, "job_id,instruments_json,status\n1,\"[\"\"PENDING\"\"]\",COMPLETED\n")
	ok, err = r.HasPending(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	enqueue(t, r, 2)
	ok, err = r.HasPending(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasPending_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	r := NewRepository(NewStore(path, table.WithLockTimeout(10*time.Millisecond)))
	require.NoError(t, os.WriteFile(path, []byte("job_id,status\n1,PENDING\n"), 0o644))
	require.NoError(t, os.WriteFile(path+".lock", nil, 0o644))

	ok, err := r.HasPending(context.Background())
	assert.ErrorIs(t, err, apperror.ErrLockTimeout)
	assert.False(t, ok)
}

func TestRecoverStale(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	fresh := time.Now().Format(time.RFC3339)
	content := "job_id,status,started_at,completed_at,error_message,progress\n" +
		"1,RUNNING," + old + ",,,\n" +
		"2,RUNNING," + fresh + ",,,\n" +
		"3,PENDING,,,,\n"

	t.Run("fail", func(t *testing.T) {
		r := setupRepo(t)
		writeFile(t, r, content)

		n, err := r.RecoverStale(context.Background(), 30*time.Minute, domain.RecoverFail)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		j, _ := r.Get(context.Background(), 1)
		assert.Equal(t, domain.StatusError, j.Status)
		assert.Contains(t, j.ErrorMessage, "abandoned")
		assert.NotNil(t, j.CompletedAt)

		j, _ = r.Get(context.Background(), 2)
		assert.Equal(t, domain.StatusRunning, j.Status)
	})

	t.Run("requeue", func(t *testing.T) {
		r := setupRepo(t)
		writeFile(t, r, content)

		n, err := r.RecoverStale(context.Background(), 30*time.Minute, domain.RecoverRequeue)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		j, _ := r.Get(context.Background(), 1)
		assert.Equal(t, domain.StatusPending, j.Status)
		assert.Nil(t, j.StartedAt)
	})

	t.Run("none", func(t *testing.T) {
		r := setupRepo(t)
		writeFile(t, r, content)

		n, err := r.RecoverStale(context.Background(), 30*time.Minute, domain.RecoverNone)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, content, readFile(t, r))
	})
}

func TestRemove(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		enqueue(t, r, id)
	}

	n, err := r.Remove(ctx, 1, 3, 99)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(2), jobs[0].ID)
}

func TestEnqueue_IDsNotReusedAfterRemove(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	first := &domain.Job{Payload: "[]"}
	require.NoError(t, r.Enqueue(ctx, first))
	second := &domain.Job{Payload: "[]"}
	require.NoError(t, r.Enqueue(ctx, second))

	_, err := r.Remove(ctx, first.ID, second.ID)
	require.NoError(t, err)

	next := &domain.Job{Payload: "[]"}
	require.NoError(t, r.Enqueue(ctx, next))
	assert.Equal(t, second.ID+1, next.ID)

	err = r.Enqueue(ctx, &domain.Job{ID: first.ID, Payload: "[]"})
	assert.ErrorIs(t, err, apperror.ErrDuplicateJobID)

	// A fresh repository over the same file sees the same floor.
	other := NewRepository(NewStore(r.Store().Path()))
	j := &domain.Job{Payload: "[]"}
	require.NoError(t, other.Enqueue(ctx, j))
	assert.Equal(t, next.ID+1, j.ID)
}

func TestEnqueue_CorruptSequenceIsAnError(t *testing.T) {
	r := setupRepo(t)
	require.NoError(t, os.WriteFile(r.Store().Path()+".seq", []byte("seven\n"), 0o644))

	err := r.Enqueue(context.Background(), &domain.Job{Payload: "[]"})
	assert.ErrorContains(t, err, "parse id sequence")
}
