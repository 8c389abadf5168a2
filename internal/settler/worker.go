package settler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Worker settles standard redemptions whose lock period has ended, and
// instant ones that were deferred.
type Worker struct {
	queue   Queue
	settler Settler
	locker  BatchLocker
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

func NewWorker(queue Queue, settler Settler, locker BatchLocker, opts Options, log *zap.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Worker{queue: queue, settler: settler, locker: locker, opts: opts, log: log, now: time.Now}
}

// Run is the worker loop: tick → ProcessBatch.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("settler started", zap.Duration("interval", w.opts.Interval), zap.Int64("batch_size", w.opts.BatchSize))

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("settler stopped")
			return
		case <-ticker.C:
		}

		sum, err := w.ProcessBatch(ctx)
		switch {
		case errors.Is(err, ErrBatchRunning):
			w.log.Debug("settler: batch held elsewhere")
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.log.Error("settler: batch", zap.Error(err))
		case sum.Processed > 0 || sum.Skipped > 0:
			w.log.Info("settler: batch done",
				zap.Int("processed", sum.Processed),
				zap.Int("completed", sum.Completed),
				zap.Int("failed", sum.Failed),
				zap.Int("deferred", sum.Deferred),
				zap.Int("skipped", sum.Skipped))
		}
	}
}

// ProcessBatch settles due requests one at a time. A failure on one request
// is recorded in the summary and never stops the batch.
func (w *Worker) ProcessBatch(ctx context.Context) (Summary, error) {
	release, ok, err := w.locker.TryAcquire(ctx, batchLockKey)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, ErrBatchRunning
	}
	defer release()

	ids, err := w.queue.Due(ctx, w.now(), w.opts.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, id := range ids {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		w.handle(ctx, id, &sum)
	}
	return sum, nil
}
