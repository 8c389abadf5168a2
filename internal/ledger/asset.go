package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/0gfoundation/0g-yield-bridge/internal/money"
)

// Asset binds a token id to its display symbol and decimal precision.
type Asset struct {
	Symbol   string
	Token    TokenID
	Decimals int32
}

// Units converts a human amount to smallest units, flooring.
func (a Asset) Units(d decimal.Decimal) (int64, error) {
	return money.ToUnits(d, a.Decimals)
}

// Amount converts smallest units to a human amount.
func (a Asset) Amount(units int64) decimal.Decimal {
	return money.FromUnits(units, a.Decimals)
}

// Floor truncates d to the asset's precision.
func (a Asset) Floor(d decimal.Decimal) decimal.Decimal {
	return money.Floor(d, a.Decimals)
}
