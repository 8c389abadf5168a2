package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/audit"
	"github.com/0gfoundation/0g-yield-bridge/internal/balance"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/money"
	"github.com/0gfoundation/0g-yield-bridge/internal/notify"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
)

// Ledger is the set of ledger capabilities the deposit flow uses.
type Ledger interface {
	ledger.ScheduleCreator
	ledger.ScheduleSigner
	ledger.ScheduleStatusReader
}

// Options configures the flow.
type Options struct {
	Stable   ledger.Asset
	Yield    ledger.Asset
	Custody  ledger.AccountID // receives the stable asset
	Treasury ledger.AccountID // pays out the yield asset
	Payer    ledger.AccountID // pays schedule fees
	TTL      time.Duration
}

type Service struct {
	validator *rate.Validator
	guard     *balance.Guard
	ledger    Ledger
	store     Store
	audit     audit.Recorder
	notifier  *notify.Dispatcher
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	validator *rate.Validator,
	guard *balance.Guard,
	l Ledger,
	store Store,
	rec audit.Recorder,
	notifier *notify.Dispatcher,
	opts Options,
	log *zap.Logger,
) *Service {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Payer == "" {
		opts.Payer = opts.Custody
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{
		validator: validator,
		guard:     guard,
		ledger:    l,
		store:     store,
		audit:     rec,
		notifier:  notifier,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Initiate validates the rate, freezes the amounts, checks both balances and
// creates the scheduled transfer. Business rejections are returned as a
// Result; the error return is for infrastructure failures and bad input.
func (s *Service) Initiate(ctx context.Context, req Request) (Result, error) {
	if _, err := req.UserAccount.Entity(); err != nil {
		return Result{}, fmt.Errorf("%w: account: %v", ErrInvalidRequest, err)
	}
	stable := s.opts.Stable.Floor(req.StableAmount)
	if !stable.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount must be at least one %s unit", ErrInvalidRequest, s.opts.Stable.Symbol)
	}
	log := s.log.With(zap.String("account", string(req.UserAccount)), zap.String("stable", stable.String()))

	check, err := s.validator.Validate(ctx, req.Rate)
	if err != nil {
		return Result{}, err
	}
	switch check.Status {
	case rate.StatusUnavailable:
		return Result{Outcome: ResultRateUnavailable, Submitted: req.Rate}, nil
	case rate.StatusConflict:
		s.record(ctx, audit.Transition{
			Entity: audit.EntityDeposit, ID: "conflict:" + string(req.UserAccount) + ":" + req.Rate.SequenceNumber,
			Account: string(req.UserAccount), FromState: string(StateRequested), ToState: string(StateRateConflict),
			Amount: stable.String(), Reason: "rate changed to " + check.Current.String(),
		})
		return Result{Outcome: ResultRateConflict, Current: check.Current, Submitted: req.Rate}, nil
	}
	locked := *check.Current

	yield, err := money.Divide(stable, locked.Value, s.opts.Yield.Decimals)
	if err != nil {
		return Result{}, fmt.Errorf("compute yield amount: %w", err)
	}
	if !yield.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount too small to mint any %s", ErrInvalidRequest, s.opts.Yield.Symbol)
	}
	stableUnits, err := s.opts.Stable.Units(stable)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	yieldUnits, err := s.opts.Yield.Units(yield)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	userCheck, err := s.guard.EnsureSufficient(ctx, req.UserAccount, s.opts.Stable.Token, stableUnits)
	if err != nil {
		return Result{}, err
	}
	if userCheck.Status == balance.StatusInsufficient {
		return Result{Outcome: ResultInsufficientBalance, Side: SideUser, Shortfall: userCheck}, nil
	}
	treasuryCheck, err := s.guard.EnsureSufficient(ctx, s.opts.Treasury, s.opts.Yield.Token, yieldUnits)
	if err != nil {
		return Result{}, err
	}
	if treasuryCheck.Status == balance.StatusInsufficient {
		log.Warn("treasury cannot cover deposit", zap.Int64("available", treasuryCheck.Available), zap.Int64("required", yieldUnits))
		return Result{Outcome: ResultInsufficientBalance, Side: SideTreasury, Shortfall: treasuryCheck}, nil
	}

	now := s.now()
	memo := Memo(req.UserAccount, stable, yield, locked.SequenceNumber)
	if len(memo) > ledger.MaxMemoBytes {
		return Result{}, fmt.Errorf("%w: memo exceeds %d bytes", ErrInvalidRequest, ledger.MaxMemoBytes)
	}
	spec := ledger.ScheduleSpec{
		Legs: []ledger.Leg{
			{Account: req.UserAccount, Token: s.opts.Stable.Token, Amount: -stableUnits},
			{Account: s.opts.Custody, Token: s.opts.Stable.Token, Amount: stableUnits},
			{Account: s.opts.Treasury, Token: s.opts.Yield.Token, Amount: -yieldUnits},
			{Account: req.UserAccount, Token: s.opts.Yield.Token, Amount: yieldUnits},
		},
		Memo:      memo,
		ExpiresAt: now.Add(s.opts.TTL),
		Payer:     s.opts.Payer,
	}
	id, err := s.ledger.CreateScheduledTransfer(ctx, spec)
	if err != nil {
		return Result{}, fmt.Errorf("create schedule: %w", err)
	}

	st := &Settlement{
		ScheduleID:   id,
		UserAccount:  req.UserAccount,
		StableAmount: stable,
		YieldAmount:  yield,
		Rate:         locked,
		State:        StateScheduleCreated,
		Memo:         memo,
		CreatedAt:    now,
		ExpiresAt:    spec.ExpiresAt,
	}
	if err := s.store.Save(ctx, st); err != nil {
		// The schedule exists but we cannot complete it; it will expire on the ledger.
		log.Error("schedule created but not persisted", zap.String("schedule", string(id)), zap.Error(err))
		return Result{}, err
	}
	for _, step := range [][2]State{{StateRequested, StateRateValidated}, {StateRateValidated, StateScheduleCreated}} {
		s.record(ctx, s.transition(st, step[0], step[1], ""))
	}

	log.Info("deposit scheduled",
		zap.String("schedule", string(id)),
		zap.String("yield", yield.String()),
		zap.String("rate", locked.String()))
	return Result{Outcome: ResultScheduled, Settlement: st}, nil
}

// Complete adds the issuer signature once the user has co-signed. Signing
// failures are returned as errors and never retried here: the ledger executes
// the schedule atomically once all signatures are present, so a resubmission
// is never needed to make progress.
func (s *Service) Complete(ctx context.Context, id ledger.ScheduleID) (CompleteResult, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return CompleteResult{}, err
	}
	if st == nil {
		return CompleteResult{}, ErrUnknownSchedule
	}
	log := s.log.With(zap.String("schedule", string(id)), zap.String("account", string(st.UserAccount)))

	switch st.State {
	case StateExecuted:
		return CompleteResult{Status: CompleteExecuted, AlreadyExecuted: true, Settlement: st}, nil
	case StateExpired:
		return CompleteResult{Status: CompleteGone, Settlement: st}, nil
	}

	status, err := s.ledger.QueryScheduleStatus(ctx, id)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("query schedule status: %w", err)
	}
	if status.Executed {
		if err := s.markExecuted(ctx, st, status.ExecutedAt); err != nil {
			return CompleteResult{}, err
		}
		return CompleteResult{Status: CompleteExecuted, AlreadyExecuted: true, Settlement: st}, nil
	}
	if status.Deleted || s.now().After(st.ExpiresAt) {
		return s.markExpired(ctx, st)
	}

	if st.State == StateIssuerSigned {
		// Our signature is already on the schedule; only the user can move it.
		log.Debug("schedule still awaiting user signature")
		return CompleteResult{Status: CompletePending, Settlement: st}, nil
	}

	executed, err := s.ledger.SignSchedule(ctx, id)
	if errors.Is(err, ledger.ErrScheduleDeleted) {
		return s.markExpired(ctx, st)
	}
	if err != nil {
		log.Error("issuer signature failed", zap.Error(err))
		return CompleteResult{}, fmt.Errorf("sign schedule %s: %w", id, err)
	}
	if !executed {
		if st.State != StateIssuerSigned {
			if err := s.setState(ctx, st, StateIssuerSigned, "awaiting user signature"); err != nil {
				return CompleteResult{}, err
			}
		}
		log.Info("issuer signed, schedule awaiting remaining signatures")
		return CompleteResult{Status: CompletePending, Settlement: st}, nil
	}

	if err := s.markExecuted(ctx, st, s.now()); err != nil {
		return CompleteResult{}, err
	}
	return CompleteResult{Status: CompleteExecuted, Settlement: st}, nil
}

// Get returns a settlement by schedule id.
func (s *Service) Get(ctx context.Context, id ledger.ScheduleID) (*Settlement, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrUnknownSchedule
	}
	return st, nil
}

// markExecuted records execution. The ledger only executes once every
// required signature is present, so execution is the evidence that the user
// signed; user_signed is recorded on the way.
func (s *Service) markExecuted(ctx context.Context, st *Settlement, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	if st.State != StateUserSigned {
		if err := s.setState(ctx, st, StateUserSigned, "schedule executed on ledger"); err != nil {
			return err
		}
	}
	st.ExecutedAt = at
	if err := s.setState(ctx, st, StateExecuted, ""); err != nil {
		return err
	}
	s.log.Info("deposit executed",
		zap.String("schedule", string(st.ScheduleID)),
		zap.String("yield", st.YieldAmount.String()))
	if s.notifier != nil {
		s.notifier.Dispatch(notify.Event{
			Kind:      notify.KindDepositExecuted,
			Account:   string(st.UserAccount),
			Reference: string(st.ScheduleID),
			Amount:    st.YieldAmount,
			Asset:     s.opts.Yield.Symbol,
			At:        at,
		})
	}
	return nil
}

func (s *Service) markExpired(ctx context.Context, st *Settlement) (CompleteResult, error) {
	if err := s.setState(ctx, st, StateExpired, "schedule deleted or expired"); err != nil {
		return CompleteResult{}, err
	}
	s.log.Info("deposit expired", zap.String("schedule", string(st.ScheduleID)))
	return CompleteResult{Status: CompleteGone, Settlement: st}, nil
}

func (s *Service) setState(ctx context.Context, st *Settlement, to State, reason string) error {
	from := st.State
	if err := s.store.SetState(ctx, st.ScheduleID, to, st.ExecutedAt); err != nil {
		return err
	}
	st.State = to
	s.record(ctx, s.transition(st, from, to, reason))
	return nil
}

func (s *Service) transition(st *Settlement, from, to State, reason string) audit.Transition {
	return audit.Transition{
		Entity:    audit.EntityDeposit,
		ID:        string(st.ScheduleID),
		Account:   string(st.UserAccount),
		FromState: string(from),
		ToState:   string(to),
		Amount:    st.StableAmount.String(),
		Reason:    reason,
		At:        s.now(),
	}
}

func (s *Service) record(ctx context.Context, t audit.Transition) {
	if err := s.audit.Record(ctx, t); err != nil {
		s.log.Warn("audit record failed", zap.String("id", t.ID), zap.String("to", t.ToState), zap.Error(err))
	}
}
