package settler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/redemption"
)

// handle re-reads one queued request, claims it and settles it.
func (w *Worker) handle(ctx context.Context, id string, sum *Summary) {
	log := w.log.With(zap.String("request", id))

	r, err := w.queue.Get(ctx, id)
	if errors.Is(err, redemption.ErrNotFound) {
		log.Warn("settler: queued request missing, dropping")
		w.dequeue(ctx, id, log)
		return
	}
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", id, err))
		return
	}

	switch {
	case r.State.Terminal():
		// Settled by an earlier batch that could not dequeue it.
		sum.Skipped++
		w.dequeue(ctx, id, log)
		return
	case r.State == redemption.StateProcessing:
		// Interrupted mid-settlement. Money may have moved; operator only.
		log.Error("settler: request stuck in processing, not retrying")
		sum.Skipped++
		return
	}

	ok, err := w.queue.Transition(ctx, id, redemption.StatePending, redemption.StateProcessing)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", id, err))
		return
	}
	if !ok {
		sum.Skipped++
		return
	}
	r.State = redemption.StateProcessing
	sum.Processed++

	out, err := w.settler.Settle(ctx, r)
	switch out {
	case redemption.OutcomeCompleted:
		sum.Completed++
	case redemption.OutcomeVerificationFailed, redemption.OutcomeFailedRefunded:
		sum.Failed++
	case redemption.OutcomeCritical:
		sum.Failed++
		sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %s", id, r.FailureReason))
	case redemption.OutcomeRetry:
		sum.Deferred++
		log.Warn("settler: request deferred", zap.Error(err))
		return
	}
	if err != nil {
		// Terminal outcome reached but not fully persisted.
		log.Error("settler: persist settled request", zap.String("outcome", out.String()), zap.Error(err))
		sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", id, err))
	}
}

func (w *Worker) dequeue(ctx context.Context, id string, log *zap.Logger) {
	if err := w.queue.Dequeue(ctx, id); err != nil {
		log.Warn("settler: dequeue", zap.Error(err))
	}
}
