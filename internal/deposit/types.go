// Package deposit drives stable-to-yield deposits: it locks a published rate,
// freezes the yield amount, creates a four-leg scheduled transfer the user
// co-signs, and completes it with the issuer signature.
package deposit

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0gfoundation/0g-yield-bridge/internal/balance"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
)

var (
	// ErrUnknownSchedule means the schedule was not created by this service,
	// or its record has been retired.
	ErrUnknownSchedule = errors.New("deposit: unknown schedule")
	// ErrInvalidRequest wraps malformed deposit requests.
	ErrInvalidRequest = errors.New("deposit: invalid request")
)

type State string

const (
	StateRequested       State = "requested"
	StateRateValidated   State = "rate_validated"
	StateScheduleCreated State = "schedule_created"
	StateUserSigned      State = "user_signed"
	// StateIssuerSigned: issuer signature added, ledger still waiting on the user.
	StateIssuerSigned State = "issuer_signed"
	StateExecuted     State = "executed"
	StateRateConflict State = "rate_conflict"
	StateExpired      State = "expired"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateExecuted || s == StateExpired || s == StateRateConflict
}

// Settlement is a deposit whose schedule exists on the ledger. Rate is a copy
// of the oracle record the amounts were computed from and never changes.
type Settlement struct {
	ScheduleID   ledger.ScheduleID
	UserAccount  ledger.AccountID
	StableAmount decimal.Decimal
	YieldAmount  decimal.Decimal
	Rate         rate.Record
	State        State
	Memo         string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ExecutedAt   time.Time
}

// Request is a deposit intake.
type Request struct {
	UserAccount  ledger.AccountID
	StableAmount decimal.Decimal
	Rate         rate.Record
}

// Memo encodes account, amounts and rate sequence for auditability.
func Memo(account ledger.AccountID, stable, yield decimal.Decimal, seq string) string {
	return fmt.Sprintf("dep:%s:%s:%s:%s", account, stable.String(), yield.String(), seq)
}

// ── Initiate outcomes ─────────────────────────────────────────────────────────

type Outcome uint8

const (
	ResultScheduled Outcome = iota
	ResultRateConflict
	ResultRateUnavailable
	ResultInsufficientBalance
)

func (o Outcome) String() string {
	switch o {
	case ResultScheduled:
		return "SCHEDULED"
	case ResultRateConflict:
		return "RATE_CONFLICT"
	case ResultRateUnavailable:
		return "RATE_UNAVAILABLE"
	case ResultInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	default:
		return "UNKNOWN"
	}
}

// Side names whose balance fell short.
type Side string

const (
	SideUser     Side = "user"
	SideTreasury Side = "treasury"
)

// Result is the tagged outcome of Initiate. Exactly the fields for Outcome are set.
type Result struct {
	Outcome Outcome

	// ResultScheduled
	Settlement *Settlement

	// ResultRateConflict
	Current   *rate.Record
	Submitted rate.Record

	// ResultInsufficientBalance
	Side      Side
	Shortfall balance.Check
}

// ── Complete outcomes ─────────────────────────────────────────────────────────

type CompleteStatus uint8

const (
	CompleteExecuted CompleteStatus = iota
	CompletePending
	CompleteGone
)

func (s CompleteStatus) String() string {
	switch s {
	case CompleteExecuted:
		return "EXECUTED"
	case CompletePending:
		return "PENDING"
	case CompleteGone:
		return "GONE"
	default:
		return "UNKNOWN"
	}
}

type CompleteResult struct {
	Status CompleteStatus
	// AlreadyExecuted is set when the schedule had executed before this call
	// and no signature was added.
	AlreadyExecuted bool
	Settlement      *Settlement
}
