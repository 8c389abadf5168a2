package balance

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
)

type fixedBalances struct {
	bal map[ledger.AccountID]int64
	err error
}

func (f fixedBalances) QueryBalance(_ context.Context, a ledger.AccountID, _ ledger.TokenID) (int64, error) {
	return f.bal[a], f.err
}

func TestEnsureSufficient(t *testing.T) {
	g := NewGuard(fixedBalances{bal: map[ledger.AccountID]int64{"0.0.1": 100}}, zap.NewNop())
	ctx := context.Background()

	cases := []struct {
		required int64
		want     Status
	}{
		{0, StatusOK},
		{99, StatusOK},
		{100, StatusOK},
		{101, StatusInsufficient},
	}
	for _, tc := range cases {
		c, err := g.EnsureSufficient(ctx, "0.0.1", "0.0.7", tc.required)
		if err != nil {
			t.Fatal(err)
		}
		if c.Status != tc.want {
			t.Errorf("required %d: got %s want %s", tc.required, c.Status, tc.want)
		}
		if c.Available != 100 || c.Required != tc.required {
			t.Errorf("required %d: available/required not reported: %+v", tc.required, c)
		}
	}
}

func TestEnsureSufficient_Shortfall(t *testing.T) {
	g := NewGuard(fixedBalances{bal: map[ledger.AccountID]int64{"0.0.1": 40}}, zap.NewNop())
	c, _ := g.EnsureSufficient(context.Background(), "0.0.1", "0.0.7", 100)
	if c.Shortfall() != 60 {
		t.Errorf("shortfall: got %d", c.Shortfall())
	}
}

func TestEnsureSufficient_UnknownAccountIsZero(t *testing.T) {
	g := NewGuard(fixedBalances{}, zap.NewNop())
	c, err := g.EnsureSufficient(context.Background(), "0.0.9", "0.0.7", 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusInsufficient {
		t.Errorf("status: got %s", c.Status)
	}
}

func TestEnsureSufficient_ReaderError(t *testing.T) {
	g := NewGuard(fixedBalances{err: errors.New("gateway down")}, zap.NewNop())
	if _, err := g.EnsureSufficient(context.Background(), "0.0.1", "0.0.7", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureSufficient_NegativeRequired(t *testing.T) {
	g := NewGuard(fixedBalances{}, zap.NewNop())
	if _, err := g.EnsureSufficient(context.Background(), "0.0.1", "0.0.7", -1); err == nil {
		t.Fatal("expected error")
	}
}
