// Package rate validates client-submitted exchange-rate snapshots against the
// latest record published by the rate oracle.
package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// Epsilon is the largest value drift tolerated between a submitted
	// snapshot and the latest record, exclusive.
	Epsilon  = decimal.New(1, -4)
	maxValue = decimal.NewFromInt(2)
)

// Record is one published exchange rate: yield asset price in stable asset.
type Record struct {
	Value          decimal.Decimal `json:"rate"`
	SequenceNumber string          `json:"sequenceNumber"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Valid reports whether the record is within 0 < value <= 2.
func (r Record) Valid() bool {
	return r.Value.IsPositive() && r.Value.LessThanOrEqual(maxValue)
}

func (r Record) String() string {
	return fmt.Sprintf("%s@%s", r.Value.String(), r.SequenceNumber)
}

// Oracle returns the most recent published record, or nil if none exists.
type Oracle interface {
	Latest(ctx context.Context) (*Record, error)
}

// Status is the result of a snapshot validation.
type Status uint8

const (
	StatusOK Status = iota
	StatusConflict
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusConflict:
		return "RATE_CONFLICT"
	case StatusUnavailable:
		return "RATE_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Check carries the validation outcome. Current is set for OK and Conflict.
type Check struct {
	Status    Status
	Current   *Record
	Submitted Record
}

// Validator compares snapshots against the oracle.
type Validator struct {
	oracle Oracle
	log    *zap.Logger
}

func NewValidator(oracle Oracle, log *zap.Logger) *Validator {
	return &Validator{oracle: oracle, log: log}
}

// Validate accepts the snapshot iff its sequence number equals the latest
// record's and the values differ by strictly less than Epsilon. The error
// return is reserved for oracle failures.
func (v *Validator) Validate(ctx context.Context, submitted Record) (Check, error) {
	latest, err := v.oracle.Latest(ctx)
	if err != nil {
		return Check{}, fmt.Errorf("fetch latest rate: %w", err)
	}
	if latest == nil {
		return Check{Status: StatusUnavailable, Submitted: submitted}, nil
	}
	if !latest.Valid() {
		v.log.Error("oracle published out-of-range rate",
			zap.String("rate", latest.Value.String()),
			zap.String("seq", latest.SequenceNumber))
		return Check{Status: StatusUnavailable, Submitted: submitted}, nil
	}

	if Matches(submitted, *latest) {
		return Check{Status: StatusOK, Current: latest, Submitted: submitted}, nil
	}
	v.log.Info("rate snapshot conflict",
		zap.String("submitted", submitted.String()),
		zap.String("current", latest.String()))
	return Check{Status: StatusConflict, Current: latest, Submitted: submitted}, nil
}

// Matches is the pure acceptance rule.
func Matches(submitted, latest Record) bool {
	if submitted.SequenceNumber != latest.SequenceNumber {
		return false
	}
	return submitted.Value.Sub(latest.Value).Abs().LessThan(Epsilon)
}
