// Package balance checks that a ledger account holds enough of a token before
// a transfer is committed. The check is advisory: it reserves nothing, so a
// caller that must not overdraw has to hold a per-account lock across the
// check and the transfer.
package balance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
)

type Status uint8

const (
	StatusOK Status = iota
	StatusInsufficient
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInsufficient:
		return "INSUFFICIENT_BALANCE"
	default:
		return "UNKNOWN"
	}
}

// Check is a point-in-time comparison, in the token's smallest units.
type Check struct {
	Status    Status
	Account   ledger.AccountID
	Token     ledger.TokenID
	Available int64
	Required  int64
}

// Shortfall is how much is missing, zero when sufficient.
func (c Check) Shortfall() int64 {
	if c.Available >= c.Required {
		return 0
	}
	return c.Required - c.Available
}

type Guard struct {
	reader ledger.BalanceReader
	log    *zap.Logger
}

func NewGuard(reader ledger.BalanceReader, log *zap.Logger) *Guard {
	return &Guard{reader: reader, log: log}
}

func (g *Guard) EnsureSufficient(ctx context.Context, account ledger.AccountID, token ledger.TokenID, required int64) (Check, error) {
	if required < 0 {
		return Check{}, fmt.Errorf("negative required amount %d", required)
	}
	available, err := g.reader.QueryBalance(ctx, account, token)
	if err != nil {
		return Check{}, fmt.Errorf("query balance %s/%s: %w", account, token, err)
	}

	c := Check{Status: StatusOK, Account: account, Token: token, Available: available, Required: required}
	if available < required {
		c.Status = StatusInsufficient
		g.log.Info("insufficient balance",
			zap.String("account", string(account)),
			zap.String("token", string(token)),
			zap.Int64("available", available),
			zap.Int64("required", required))
	}
	return c, nil
}
