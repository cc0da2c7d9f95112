package job

import (
	"context"
	"time"
)

// RecoveryPolicy decides what happens to RUNNING jobs whose worker is gone.
type RecoveryPolicy string

const (
	RecoverFail    RecoveryPolicy = "fail"
	RecoverRequeue RecoveryPolicy = "requeue"
	RecoverNone    RecoveryPolicy = "none"
)

type Repository interface {
	Enqueue(ctx context.Context, j *Job) error
	ClaimNext(ctx context.Context) (*Job, error)
	Update(ctx context.Context, id int64, u Update) error
	Get(ctx context.Context, id int64) (*Job, error)
	List(ctx context.Context) ([]Job, error)
	HasPending(ctx context.Context) (bool, error)
	RecoverStale(ctx context.Context, olderThan time.Duration, policy RecoveryPolicy) (int64, error)
	Remove(ctx context.Context, ids ...int64) (int, error)
}
