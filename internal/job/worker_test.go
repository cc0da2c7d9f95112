package job

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, repo *mockRepo, n int) {
	t.Helper()
	for range n {
		require.NoError(t, repo.Enqueue(context.Background(), &Job{AsOf: time.Now(), Payload: "[]"}))
	}
}

func TestWorker_DrainsQueueInIDOrder(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, 3)

	var order []int64
	w := NewWorker(repo, ProcessorFunc(func(_ context.Context, j *Job) error {
		order = append(order, j.ID)
		return nil
	}))

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Completed: 3}, sum)
	assert.True(t, sum.OK())
	assert.Equal(t, []int64{1, 2, 3}, order)

	jobs, _ := repo.List(context.Background())
	for _, j := range jobs {
		assert.Equal(t, StatusCompleted, j.Status)
	}
}

func TestWorker_ProcessorErrorMarksJobError(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, 2)

	w := NewWorker(repo, ProcessorFunc(func(_ context.Context, j *Job) error {
		if j.ID == 1 {
			return errors.New(strings.Repeat("x", 2000))
		}
		return nil
	}))

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Completed: 1, Failed: 1}, sum)
	assert.False(t, sum.OK())

	j, _ := repo.Get(context.Background(), 1)
	assert.Equal(t, StatusError, j.Status)
	assert.Len(t, j.ErrorMessage, MaxErrorLen)
}

func TestWorker_PanicMarksJobError(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, 1)

	w := NewWorker(repo, ProcessorFunc(func(context.Context, *Job) error {
		panic("nil map")
	}))

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	j, _ := repo.Get(context.Background(), 1)
	assert.Equal(t, StatusError, j.Status)
	assert.Contains(t, j.ErrorMessage, "nil map")
}

func TestWorker_ProcessorOwnedTerminalStateRespected(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, 2)

	w := NewWorker(repo, ProcessorFunc(func(ctx context.Context, j *Job) error {
		if j.ID == 1 {
			_ = repo.Update(ctx, j.ID, Fail("no valid instruments found"))
			return errors.New("no valid instruments found")
		}
		return repo.Update(ctx, j.ID, Complete("Completed: 4 cashflows from 1 instruments", 1, 0))
	}))

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Completed: 1, Failed: 1}, sum)

	j, _ := repo.Get(context.Background(), 2)
	assert.Equal(t, "Completed: 4 cashflows from 1 instruments", j.Progress)
}

func TestWorker_NeverLeavesJobRunning(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, 5)

	var n atomic.Int32
	w := NewWorker(repo, ProcessorFunc(func(context.Context, *Job) error {
		if n.Add(1)%2 == 0 {
			return errors.New("terminal call failed")
		}
		return nil
	}))

	_, err := w.Run(context.Background())
	require.NoError(t, err)

	jobs, _ := repo.List(context.Background())
	for _, j := range jobs {
		assert.True(t, j.Status.Terminal(), "job %d ended %s", j.ID, j.Status)
	}
}

func TestWorker_ShutdownLeavesJobRunning(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, 2)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(repo, ProcessorFunc(func(ctx context.Context, _ *Job) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}))

	_, err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	j1, _ := repo.Get(context.Background(), 1)
	j2, _ := repo.Get(context.Background(), 2)
	assert.Equal(t, StatusRunning, j1.Status)
	assert.Equal(t, StatusPending, j2.Status)
}

func TestWorker_ClaimFailure(t *testing.T) {
	repo := newMockRepo()
	repo.claimErr = errors.New("lock timeout")

	_, err := NewWorker(repo, ProcessorFunc(func(context.Context, *Job) error { return nil })).Run(context.Background())
	assert.Error(t, err)
}

func TestWorker_EmptyQueue(t *testing.T) {
	sum, err := NewWorker(newMockRepo(), ProcessorFunc(func(context.Context, *Job) error {
		t.Fatal("processor must not be called")
		return nil
	})).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}
