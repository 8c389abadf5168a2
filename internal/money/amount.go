// Package money converts between human-denominated token amounts and the
// ledger's integer smallest units. Every conversion rounds toward zero so the
// bridge never credits more than it received.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrZeroRate     = errors.New("money: rate must be positive")
	ErrNegative     = errors.New("money: amount must not be negative")
	ErrUnitOverflow = errors.New("money: amount overflows int64 units")
)

const bpsDenominator = 10_000

// Floor drops everything below the token's smallest unit.
func Floor(d decimal.Decimal, decimals int32) decimal.Decimal {
	return d.RoundFloor(decimals)
}

// ToUnits converts d into smallest units, flooring any sub-unit remainder.
func ToUnits(d decimal.Decimal, decimals int32) (int64, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	units := d.Shift(decimals).Floor()
	if !units.BigInt().IsInt64() {
		return 0, ErrUnitOverflow
	}
	return units.IntPart(), nil
}

// FromUnits converts smallest units back into a decimal amount.
func FromUnits(units int64, decimals int32) decimal.Decimal {
	return decimal.New(units, -decimals)
}

// Divide returns floor(amount / rate) at the given precision. Used to turn a
// stable amount into yield tokens at a locked rate.
func Divide(amount, rate decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, ErrZeroRate
	}
	if amount.IsNegative() {
		return decimal.Zero, ErrNegative
	}
	q, _ := amount.QuoRem(rate, decimals)
	return q, nil
}

// Multiply returns floor(amount * rate) at the given precision.
func Multiply(amount, rate decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, ErrZeroRate
	}
	if amount.IsNegative() {
		return decimal.Zero, ErrNegative
	}
	return Floor(amount.Mul(rate), decimals), nil
}

// ApplyFee deducts a basis-point fee from gross. The net side is floored, so
// any rounding remainder lands in the fee.
func ApplyFee(gross decimal.Decimal, bps int64, decimals int32) (net, fee decimal.Decimal, err error) {
	if bps < 0 || bps > bpsDenominator {
		return decimal.Zero, decimal.Zero, fmt.Errorf("money: fee %d bps out of range", bps)
	}
	keep := decimal.NewFromInt(bpsDenominator - bps).Div(decimal.NewFromInt(bpsDenominator))
	net = Floor(gross.Mul(keep), decimals)
	return net, gross.Sub(net), nil
}
