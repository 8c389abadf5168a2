package settler

import (
	"context"
	"errors"
	"time"

	"github.com/0gfoundation/0g-yield-bridge/internal/redemption"
)

// ErrBatchRunning is returned when another instance holds the batch lock.
var ErrBatchRunning = errors.New("settler: batch already running")

const batchLockKey = "settler:batch"

// Queue is the subset of the redemption store the worker drives.
type Queue interface {
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Dequeue(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*redemption.Request, error)
	Transition(ctx context.Context, id string, from, to redemption.State) (bool, error)
}

// Settler runs one claimed request to completion.
type Settler interface {
	Settle(ctx context.Context, r *redemption.Request) (redemption.Outcome, error)
}

// BatchLocker guards a batch against concurrent workers.
type BatchLocker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Summary reports one ProcessBatch invocation.
type Summary struct {
	Processed int      `json:"processed"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Deferred  int      `json:"deferred"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

type Options struct {
	Interval  time.Duration
	BatchSize int64
}
