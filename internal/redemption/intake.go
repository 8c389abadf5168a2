package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
)

type IntakeOptions struct {
	// InstantMax caps the stable payout of a single instant redemption.
	InstantMax  decimal.Decimal
	LockPeriod  time.Duration
	ScheduleTTL time.Duration
}

// Submission is a user's redemption request as received.
type Submission struct {
	UserAccount ledger.AccountID
	YieldAmount decimal.Decimal
	Rate        rate.Record
	Kind        Kind
}

type SubmitStatus uint8

const (
	// SubmitSettled: instant request ran to a terminal state, see Outcome.
	SubmitSettled SubmitStatus = iota
	// SubmitQueued: standard request awaiting its lock period, or an
	// instant request deferred to the worker.
	SubmitQueued
	SubmitRateConflict
	SubmitRateUnavailable
	SubmitOverInstantCap
)

func (s SubmitStatus) String() string {
	switch s {
	case SubmitSettled:
		return "SETTLED"
	case SubmitQueued:
		return "QUEUED"
	case SubmitRateConflict:
		return "RATE_CONFLICT"
	case SubmitRateUnavailable:
		return "RATE_UNAVAILABLE"
	case SubmitOverInstantCap:
		return "OVER_INSTANT_CAP"
	default:
		return "UNKNOWN"
	}
}

type SubmitResult struct {
	Status  SubmitStatus
	Request *Request
	Outcome Outcome // SubmitSettled only

	Current   *rate.Record // SubmitRateConflict
	Submitted rate.Record
}

// Intake accepts redemption requests. Instant requests are settled inline;
// standard ones get an inbound schedule for the user to sign and are queued
// until their lock period ends.
type Intake struct {
	validator *rate.Validator
	store     Store
	engine    *Engine
	schedules ledger.ScheduleCreator
	opts      IntakeOptions
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewIntake(validator *rate.Validator, store Store, engine *Engine, schedules ledger.ScheduleCreator, opts IntakeOptions, log *zap.Logger) *Intake {
	if opts.ScheduleTTL <= 0 {
		opts.ScheduleTTL = time.Hour
	}
	return &Intake{
		validator: validator,
		store:     store,
		engine:    engine,
		schedules: schedules,
		opts:      opts,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (in *Intake) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	if !sub.Kind.Valid() {
		return SubmitResult{}, fmt.Errorf("%w: kind %q", ErrInvalidRequest, sub.Kind)
	}
	if _, err := sub.UserAccount.Entity(); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: account: %v", ErrInvalidRequest, err)
	}
	yield := in.engine.opts.Yield.Floor(sub.YieldAmount)
	if !yield.IsPositive() {
		return SubmitResult{}, fmt.Errorf("%w: amount must be at least one %s unit", ErrInvalidRequest, in.engine.opts.Yield.Symbol)
	}

	check, err := in.validator.Validate(ctx, sub.Rate)
	if err != nil {
		return SubmitResult{}, err
	}
	switch check.Status {
	case rate.StatusUnavailable:
		return SubmitResult{Status: SubmitRateUnavailable, Submitted: sub.Rate}, nil
	case rate.StatusConflict:
		return SubmitResult{Status: SubmitRateConflict, Current: check.Current, Submitted: sub.Rate}, nil
	}

	now := in.now()
	r := &Request{
		RequestID:   in.newID(),
		UserAccount: sub.UserAccount,
		YieldAmount: yield,
		Rate:        *check.Current,
		Kind:        sub.Kind,
		State:       StatePending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if _, err := in.engine.Quote(r); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !r.PayoutAmount.IsPositive() {
		return SubmitResult{}, fmt.Errorf("%w: amount too small to pay out", ErrInvalidRequest)
	}
	log := in.log.With(zap.String("request", r.RequestID), zap.String("account", string(r.UserAccount)), zap.String("kind", string(r.Kind)))

	if r.Kind == KindStandard {
		return in.submitStandard(ctx, r, log)
	}

	if in.opts.InstantMax.IsPositive() && r.PayoutAmount.GreaterThan(in.opts.InstantMax) {
		return SubmitResult{Status: SubmitOverInstantCap, Request: r}, nil
	}
	r.UnlockAt = now
	if err := in.store.Create(ctx, r); err != nil {
		return SubmitResult{}, err
	}
	ok, err := in.store.Transition(ctx, r.RequestID, StatePending, StateProcessing)
	if err != nil {
		return SubmitResult{}, err
	}
	if !ok {
		return SubmitResult{}, fmt.Errorf("claim fresh request %s: state changed", r.RequestID)
	}
	r.State = StateProcessing
	log.Info("instant redemption accepted", zap.String("yield", yield.String()), zap.String("payout", r.PayoutAmount.String()))

	// The request is claimed now; it settles even if the client disconnects.
	out, err := in.engine.Settle(context.WithoutCancel(ctx), r)
	if out == OutcomeRetry {
		log.Warn("instant redemption deferred to worker", zap.Error(err))
		return SubmitResult{Status: SubmitQueued, Request: r}, nil
	}
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Status: SubmitSettled, Request: r, Outcome: out}, nil
}

func (in *Intake) submitStandard(ctx context.Context, r *Request, log *zap.Logger) (SubmitResult, error) {
	yieldUnits, err := in.engine.opts.Yield.Units(r.YieldAmount)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	treasury := in.engine.opts.Wallets.Treasury
	id, err := in.schedules.CreateScheduledTransfer(ctx, ledger.ScheduleSpec{
		Legs: []ledger.Leg{
			{Account: r.UserAccount, Token: in.engine.opts.Yield.Token, Amount: -yieldUnits},
			{Account: treasury, Token: in.engine.opts.Yield.Token, Amount: yieldUnits},
		},
		Memo:      "wd:" + r.RequestID,
		ExpiresAt: r.SubmittedAt.Add(in.opts.ScheduleTTL),
		Payer:     treasury,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create inbound schedule: %w", err)
	}
	r.ScheduleID = id
	r.UnlockAt = r.SubmittedAt.Add(in.opts.LockPeriod)

	if err := in.store.Create(ctx, r); err != nil {
		return SubmitResult{}, err
	}
	if err := in.store.Enqueue(ctx, r.RequestID, r.UnlockAt); err != nil {
		return SubmitResult{}, err
	}
	log.Info("standard redemption queued",
		zap.String("schedule", string(id)),
		zap.Time("unlock_at", r.UnlockAt),
		zap.String("payout", r.PayoutAmount.String()))
	return SubmitResult{Status: SubmitQueued, Request: r}, nil
}

// Get returns a request by id.
func (in *Intake) Get(ctx context.Context, id string) (*Request, error) {
	return in.store.Get(ctx, id)
}

// Critical returns the requests escalated as critical_unresolved, oldest
// escalation first. Ids whose record has expired are skipped.
func (in *Intake) Critical(ctx context.Context) ([]*Request, error) {
	ids, err := in.store.Critical(ctx)
	if err != nil {
		return nil, fmt.Errorf("list critical: %w", err)
	}
	out := make([]*Request, 0, len(ids))
	for _, id := range ids {
		r, err := in.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			in.log.Warn("critical request record missing", zap.String("request", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
