// Package retry polls an operation over a fixed delay schedule.
package retry

import (
	"context"
	"time"
)

// IndexerDelays is the wait before each indexer lookup. The mirror node lags
// consensus by a few seconds; eight attempts cover roughly 47s.
var IndexerDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	12 * time.Second,
	15 * time.Second,
}

// Policy is a delay schedule plus an attempt cap. When MaxAttempts exceeds
// len(Delays) the last delay repeats; zero means one attempt per delay.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
}

// CheckFunc reports whether the awaited condition holds. A non-nil error is
// treated as transient and does not stop polling.
type CheckFunc func(ctx context.Context, attempt int) (bool, error)

func (p Policy) attempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	if len(p.Delays) == 0 {
		return 1
	}
	return len(p.Delays)
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < len(p.Delays) {
		return p.Delays[attempt]
	}
	return p.Delays[len(p.Delays)-1]
}

// Total returns the worst-case time spent waiting.
func (p Policy) Total() time.Duration {
	var total time.Duration
	for i := 0; i < p.attempts(); i++ {
		total += p.delay(i)
	}
	return total
}

// Poll waits the scheduled delay before each attempt and returns true on the
// first attempt whose check holds. After the last attempt it returns false
// together with the most recent transient error, if any.
func Poll(ctx context.Context, p Policy, check CheckFunc) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < p.attempts(); attempt++ {
		if d := p.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return false, err
		}

		ok, err := check(ctx, attempt)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}
