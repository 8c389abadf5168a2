package redemption

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/audit"
	"github.com/0gfoundation/0g-yield-bridge/internal/balance"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/money"
	"github.com/0gfoundation/0g-yield-bridge/internal/notify"
)

// InboundVerifier confirms the user's yield-token transfer landed.
type InboundVerifier interface {
	VerifyInboundTransfer(ctx context.Context, exp Expectation) (Match, bool, error)
}

// WalletLocker serializes work on one payout wallet.
type WalletLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Wallets are the service-controlled accounts a redemption touches.
type Wallets struct {
	Treasury       ledger.AccountID // receives yield tokens, source of rollbacks
	InstantPayout  ledger.AccountID
	StandardPayout ledger.AccountID
}

type EngineOptions struct {
	Stable        ledger.Asset
	Yield         ledger.Asset
	Wallets       Wallets
	InstantFeeBps int64
	// SettleTimeout bounds the writes that follow inbound verification.
	SettleTimeout time.Duration
}

// Engine settles claimed requests. Funds are only ever in one of three
// places: with the user (never verified), in treasury awaiting payout
// (verified), or back with the user (paid out or refunded). Anything else is
// escalated as critical and left for an operator.
type Engine struct {
	store     Store
	verifier  InboundVerifier
	schedules ledger.ScheduleStatusReader
	guard     *balance.Guard
	transfers ledger.TransferExecutor
	locker    WalletLocker
	audit     audit.Recorder
	notifier  *notify.Dispatcher
	opts      EngineOptions
	log       *zap.Logger
	now       func() time.Time
}

func NewEngine(
	store Store,
	verifier InboundVerifier,
	schedules ledger.ScheduleStatusReader,
	guard *balance.Guard,
	transfers ledger.TransferExecutor,
	locker WalletLocker,
	rec audit.Recorder,
	notifier *notify.Dispatcher,
	opts EngineOptions,
	log *zap.Logger,
) *Engine {
	if rec == nil {
		rec = audit.Nop{}
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 2 * time.Minute
	}
	return &Engine{
		store:     store,
		verifier:  verifier,
		schedules: schedules,
		guard:     guard,
		transfers: transfers,
		locker:    locker,
		audit:     rec,
		notifier:  notifier,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// PayoutWallet returns the wallet that pays the given kind.
func (e *Engine) PayoutWallet(k Kind) ledger.AccountID {
	if k == KindInstant {
		return e.opts.Wallets.InstantPayout
	}
	return e.opts.Wallets.StandardPayout
}

// Quote computes the stable payout and fee for a yield amount at a rate,
// flooring to the stable asset's precision.
func (e *Engine) Quote(r *Request) (payoutUnits int64, err error) {
	gross, err := money.Multiply(r.YieldAmount, r.Rate.Value, e.opts.Stable.Decimals)
	if err != nil {
		return 0, err
	}
	net := gross
	if r.Kind == KindInstant && e.opts.InstantFeeBps > 0 {
		if net, _, err = money.ApplyFee(gross, e.opts.InstantFeeBps, e.opts.Stable.Decimals); err != nil {
			return 0, err
		}
	}
	r.PayoutAmount = net
	r.FeeAmount = gross.Sub(net)
	return e.opts.Stable.Units(net)
}

// Settle runs one claimed request to a terminal state. The caller must have
// moved it to processing. A returned error with OutcomeRetry means nothing
// moved and the request is pending again.
//
// Only the inbound lookup follows ctx. Once it returns, every write runs on a
// detached context bounded by SettleTimeout, so a caller that goes away never
// strands a request in processing or cuts a rollback short.
func (e *Engine) Settle(ctx context.Context, r *Request) (Outcome, error) {
	if r.State != StateProcessing {
		return OutcomeRetry, fmt.Errorf("%w: %s is %s", ErrNotClaimed, r.RequestID, r.State)
	}
	log := e.log.With(
		zap.String("request", r.RequestID),
		zap.String("kind", string(r.Kind)),
		zap.String("account", string(r.UserAccount)))

	in := e.confirmInbound(ctx, r, log)

	wctx, cancel := e.detach(ctx)
	defer cancel()
	switch {
	case in.err != nil:
		return e.retryLater(wctx, r, in.err)
	case in.reason != "":
		return e.finish(wctx, r, StateFailed, in.reason, OutcomeVerificationFailed)
	}
	r.InboundTxID = in.match.TransactionID
	return e.payout(wctx, r, in.yieldUnits, log)
}

// inbound is the result of steps 1-2: a match, a definitive failure reason,
// or an error that leaves the outcome undecided.
type inbound struct {
	match      Match
	yieldUnits int64
	reason     string
	err        error
}

// confirmInbound checks that the user's yield tokens reached the treasury.
func (e *Engine) confirmInbound(ctx context.Context, r *Request, log *zap.Logger) inbound {
	yieldUnits, err := e.opts.Yield.Units(r.YieldAmount)
	if err != nil || yieldUnits <= 0 {
		return inbound{reason: "invalid yield amount"}
	}
	since := r.SubmittedAt

	// 1. standard requests pay only after the user's scheduled transfer executed.
	if r.Kind == KindStandard {
		st, err := e.schedules.QueryScheduleStatus(ctx, r.ScheduleID)
		if err != nil {
			return inbound{err: fmt.Errorf("schedule status %s: %w", r.ScheduleID, err)}
		}
		if !st.Executed {
			log.Info("inbound schedule not executed", zap.String("schedule", string(r.ScheduleID)), zap.Bool("deleted", st.Deleted))
			return inbound{reason: ReasonScheduleNotExecuted}
		}
		if !st.ExecutedAt.IsZero() {
			since = st.ExecutedAt
		}
	}

	// 2. confirm the yield tokens reached the treasury.
	match, found, err := e.verifier.VerifyInboundTransfer(ctx, Expectation{
		RequestID: r.RequestID,
		From:      r.UserAccount,
		To:        e.opts.Wallets.Treasury,
		Token:     e.opts.Yield.Token,
		Amount:    yieldUnits,
		Since:     since,
	})
	switch {
	case err != nil:
		return inbound{err: err}
	case found:
		return inbound{match: match, yieldUnits: yieldUnits}
	case r.Kind == KindStandard:
		// The ledger says the schedule moved the tokens; the indexer has
		// not caught up yet.
		log.Error("inbound schedule executed but transfer not indexed", zap.String("schedule", string(r.ScheduleID)))
		return inbound{err: fmt.Errorf("%w: schedule %s", ErrInboundNotIndexed, r.ScheduleID)}
	}
	return inbound{reason: ReasonTransferNotFound}
}

// payout runs steps 3-5 under the payout wallet lock.
func (e *Engine) payout(ctx context.Context, r *Request, yieldUnits int64, log *zap.Logger) (Outcome, error) {
	payoutUnits, err := e.Quote(r)
	if err != nil || payoutUnits <= 0 {
		log.Error("cannot price verified redemption", zap.Error(err))
		return e.rollback(ctx, r, yieldUnits, "payout amount could not be computed")
	}

	wallet := e.PayoutWallet(r.Kind)
	release, err := e.locker.Acquire(ctx, "wallet:"+string(wallet))
	if err != nil {
		return e.retryLater(ctx, r, fmt.Errorf("lock payout wallet: %w", err))
	}
	defer release()

	check, err := e.guard.EnsureSufficient(ctx, wallet, e.opts.Stable.Token, payoutUnits)
	if err != nil {
		return e.retryLater(ctx, r, err)
	}
	if check.Status == balance.StatusInsufficient {
		log.Warn("payout wallet short", zap.Int64("available", check.Available), zap.Int64("required", payoutUnits))
		return e.rollback(ctx, r, yieldUnits, ReasonInsufficientLiquidity)
	}

	txID, err := e.transfers.ExecuteTransfer(ctx, ledger.TransferSpec{
		From:   wallet,
		To:     r.UserAccount,
		Token:  e.opts.Stable.Token,
		Amount: payoutUnits,
		Memo:   "wd:" + r.RequestID,
	})
	if err != nil {
		// 5. compensate.
		log.Error("payout failed", zap.Error(err))
		return e.rollback(ctx, r, yieldUnits, "payout failed: "+err.Error())
	}

	r.PayoutTxID = txID
	out, serr := e.finish(ctx, r, StateCompleted, "", OutcomeCompleted)
	log.Info("redemption paid", zap.String("tx", txID), zap.String("amount", r.PayoutAmount.String()))
	e.dispatch(notify.KindRedemptionCompleted, r, txID)
	return out, serr
}

func (e *Engine) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.SettleTimeout)
}

// rollback returns the verified yield tokens to the user.
func (e *Engine) rollback(ctx context.Context, r *Request, yieldUnits int64, cause string) (Outcome, error) {
	log := e.log.With(zap.String("request", r.RequestID))
	txID, err := e.transfers.ExecuteTransfer(ctx, ledger.TransferSpec{
		From:   e.opts.Wallets.Treasury,
		To:     r.UserAccount,
		Token:  e.opts.Yield.Token,
		Amount: yieldUnits,
		Memo:   "rb:" + r.RequestID,
	})
	if err != nil {
		log.Error("ROLLBACK FAILED, funds held in treasury",
			zap.String("cause", cause),
			zap.String("inbound_tx", r.InboundTxID),
			zap.Error(err))
		r.FailureReason = fmt.Sprintf("%s (%s; rollback failed: %v)", ReasonCritical, cause, err)
		out, serr := e.finish(ctx, r, StateCritical, r.FailureReason, OutcomeCritical)
		if perr := e.store.PushCritical(ctx, r.RequestID); perr != nil {
			log.Error("failed to index critical request", zap.Error(perr))
		}
		e.dispatch(notify.KindRedemptionCritical, r, "")
		return out, serr
	}

	r.RollbackTxID = txID
	reason := cause
	if cause != ReasonInsufficientLiquidity {
		reason = fmt.Sprintf("%s, refunded in %s", cause, txID)
	}
	log.Info("redemption refunded", zap.String("rollback_tx", txID), zap.String("cause", cause))
	out, serr := e.finish(ctx, r, StateFailedRefunded, reason, OutcomeFailedRefunded)
	e.dispatch(notify.KindRedemptionRefunded, r, txID)
	return out, serr
}

// retryLater puts a request whose outcome is undecided back to pending.
// Only used before any transfer was attempted.
func (e *Engine) retryLater(ctx context.Context, r *Request, cause error) (Outcome, error) {
	e.log.Warn("redemption deferred", zap.String("request", r.RequestID), zap.Error(cause))
	ok, err := e.store.Transition(ctx, r.RequestID, StateProcessing, StatePending)
	if err != nil {
		return OutcomeRetry, fmt.Errorf("%v; release %s: %w", cause, r.RequestID, err)
	}
	if ok {
		r.State = StatePending
		if err := e.store.Enqueue(ctx, r.RequestID, e.now()); err != nil {
			e.log.Warn("requeue failed", zap.String("request", r.RequestID), zap.Error(err))
		}
	}
	return OutcomeRetry, cause
}

func (e *Engine) finish(ctx context.Context, r *Request, to State, reason string, out Outcome) (Outcome, error) {
	from := r.State
	r.State = to
	r.UpdatedAt = e.now()
	if reason != "" {
		r.FailureReason = reason
	}
	if err := e.store.Save(ctx, r); err != nil {
		// The ledger side already happened; the stored request stays in
		// processing, which the worker never picks up again.
		e.log.Error("failed to persist redemption outcome",
			zap.String("request", r.RequestID),
			zap.String("state", string(to)),
			zap.String("payout_tx", r.PayoutTxID),
			zap.String("rollback_tx", r.RollbackTxID),
			zap.Error(err))
		return out, fmt.Errorf("persist %s: %w", r.RequestID, err)
	}
	e.record(ctx, r, from, to)
	if to == StateFailed {
		e.dispatch(notify.KindRedemptionFailed, r, "")
	}
	return out, nil
}

func (e *Engine) record(ctx context.Context, r *Request, from, to State) {
	err := e.audit.Record(ctx, audit.Transition{
		Entity:    audit.EntityRedemption,
		ID:        r.RequestID,
		Account:   string(r.UserAccount),
		FromState: string(from),
		ToState:   string(to),
		Amount:    r.YieldAmount.String(),
		TxID:      firstNonEmpty(r.PayoutTxID, r.RollbackTxID, r.InboundTxID),
		Reason:    r.FailureReason,
		At:        r.UpdatedAt,
	})
	if err != nil {
		e.log.Warn("audit record failed", zap.String("request", r.RequestID), zap.Error(err))
	}
}

func (e *Engine) dispatch(kind notify.Kind, r *Request, txID string) {
	if e.notifier == nil {
		return
	}
	ev := notify.Event{
		Kind:      kind,
		Account:   string(r.UserAccount),
		Reference: r.RequestID,
		TxID:      txID,
		Reason:    r.FailureReason,
	}
	if kind == notify.KindRedemptionCompleted {
		ev.Amount, ev.Asset = r.PayoutAmount, e.opts.Stable.Symbol
	} else {
		ev.Amount, ev.Asset = r.YieldAmount, e.opts.Yield.Symbol
	}
	e.notifier.Dispatch(ev)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
