// Package lock provides Redis-backed mutual exclusion keyed by resource id.
// It serializes the balance check and payout transfer against one payout
// wallet across goroutines and processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// ErrTimeout is returned when the lock could not be acquired within WaitTimeout.
var ErrTimeout = errors.New("lock: wait timeout")

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was re-acquired elsewhere is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options tune lock behaviour.
type Options struct {
	TTL          time.Duration // key expiry; bounds how long a crashed holder blocks others
	WaitTimeout  time.Duration // how long Acquire keeps trying
	PollInterval time.Duration
}

// Locker hands out token-guarded Redis locks.
type Locker struct {
	rdb  *redis.Client
	opts Options
}

func NewLocker(rdb *redis.Client, opts Options) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	return &Locker{rdb: rdb, opts: opts}
}

// TryAcquire makes a single attempt. ok is false when another holder owns the key.
func (l *Locker) TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error) {
	token := uuid.NewString()
	set, err := l.rdb.SetNX(ctx, keyPrefix+key, token, l.opts.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !set {
		return nil, false, nil
	}
	return l.releaser(key, token), true, nil
}

// Acquire blocks until the lock is held, ctx is done, or WaitTimeout elapses.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(l.opts.WaitTimeout)
	for {
		release, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, ErrTimeout)
		}

		timer := time.NewTimer(l.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	return func() {
		// Release must run even if the caller's context is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.rdb, []string{keyPrefix + key}, token) //nolint:errcheck
	}
}
