// Package redemption turns yield tokens back into the stable asset. A request
// is verified against the indexer, paid out from the instant or standard
// payout wallet, and compensated by returning the yield tokens when the
// payout cannot complete.
package redemption

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
)

var (
	ErrNotFound       = errors.New("redemption: request not found")
	ErrInvalidRequest = errors.New("redemption: invalid request")
	// ErrNotClaimed is returned by Settle for a request not in processing state.
	ErrNotClaimed = errors.New("redemption: request not claimed for processing")
	// ErrInboundNotIndexed means the inbound schedule executed on the ledger
	// but its transfer never showed up in the indexer. The request is retried.
	ErrInboundNotIndexed = errors.New("redemption: executed inbound transfer not indexed")
)

type Kind string

const (
	KindInstant  Kind = "instant"
	KindStandard Kind = "standard"
)

func (k Kind) Valid() bool { return k == KindInstant || k == KindStandard }

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	// StateFailedRefunded: payout did not happen and the yield tokens were returned.
	StateFailedRefunded State = "failed_refunded"
	// StateCritical: tokens received, neither paid out nor returned. Operator only.
	StateCritical State = "critical_unresolved"
)

// Terminal reports whether the automated worker must leave the request alone.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateFailedRefunded, StateCritical:
		return true
	}
	return false
}

// User-visible failure reasons.
const (
	ReasonScheduleNotExecuted   = "inbound schedule not executed"
	ReasonTransferNotFound      = "transfer not found"
	ReasonInsufficientLiquidity = "insufficient payout liquidity, refunded"
	ReasonCritical              = "critical: contact support"
)

// Request is one redemption. It is never deleted.
type Request struct {
	RequestID   string
	UserAccount ledger.AccountID
	YieldAmount decimal.Decimal
	Rate        rate.Record
	Kind        Kind
	State       State

	// ScheduleID is the user's inbound scheduled transfer (standard only).
	ScheduleID  ledger.ScheduleID
	InboundTxID string

	SubmittedAt time.Time
	UnlockAt    time.Time
	UpdatedAt   time.Time

	PayoutAmount  decimal.Decimal
	FeeAmount     decimal.Decimal
	PayoutTxID    string
	RollbackTxID  string
	FailureReason string
}

// Outcome is the tagged result of settling one request.
type Outcome uint8

const (
	OutcomeCompleted Outcome = iota
	OutcomeVerificationFailed
	OutcomeFailedRefunded
	OutcomeCritical
	// OutcomeRetry: nothing moved, the request went back to pending.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeVerificationFailed:
		return "VERIFICATION_FAILED"
	case OutcomeFailedRefunded:
		return "FAILED_REFUNDED"
	case OutcomeCritical:
		return "CRITICAL_UNRESOLVED"
	case OutcomeRetry:
		return "RETRY"
	default:
		return "UNKNOWN"
	}
}
