package redemption

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/indexer"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
)

func expectation(id string, from ledger.AccountID, units int64, since time.Time) Expectation {
	return Expectation{RequestID: id, From: from, To: treasury, Token: yieldAsset.Token, Amount: units, Since: since}
}

func TestVerify_FindsLateIndexedTransfer(t *testing.T) {
	h := newHarness(t, nil)
	q := &lateIndexer{fakeIndexer: h.indexer, appearAfter: 3}
	v := NewVerifier(q, h.store, fastPolicy(), time.Minute, zap.NewNop())
	h.indexer.addInbound("tx-1", alice, 5_000000, time.Now())

	m, ok, err := v.VerifyInboundTransfer(context.Background(), expectation("r1", alice, 5_000000, time.Now()))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if m.TransactionID != "tx-1" {
		t.Errorf("match: %+v", m)
	}
	if q.calls != 4 {
		t.Errorf("calls: got %d want 4", q.calls)
	}
}

func TestVerify_ClockSkewWindow(t *testing.T) {
	h := newHarness(t, nil)
	submitted := time.Now()
	// Ledger clock 30s behind the service clock.
	h.indexer.addInbound("tx-1", alice, 1_000000, submitted.Add(-30*time.Second))

	_, ok, err := h.verifier.VerifyInboundTransfer(context.Background(), expectation("r1", alice, 1_000000, submitted))
	if err != nil || !ok {
		t.Fatalf("transfer within skew window not found: ok=%v err=%v", ok, err)
	}
}

func TestVerify_ClaimedTransferCannotBackSecondRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.indexer.addInbound("tx-1", alice, 1_000000, time.Now())
	ctx := context.Background()

	if _, ok, _ := h.verifier.VerifyInboundTransfer(ctx, expectation("r1", alice, 1_000000, time.Now())); !ok {
		t.Fatal("first request should match")
	}
	if _, ok, _ := h.verifier.VerifyInboundTransfer(ctx, expectation("r1", alice, 1_000000, time.Now())); !ok {
		t.Fatal("same request re-verifying should still match its own claim")
	}
	if _, ok, _ := h.verifier.VerifyInboundTransfer(ctx, expectation("r2", alice, 1_000000, time.Now())); ok {
		t.Fatal("second request must not reuse the same inbound transfer")
	}
}

func TestVerify_IgnoresFailedTransactions(t *testing.T) {
	h := newHarness(t, nil)
	h.indexer.addInbound("tx-1", alice, 1_000000, time.Now())
	h.indexer.transfers[0].Result = "INSUFFICIENT_TOKEN_BALANCE"

	_, ok, err := h.verifier.VerifyInboundTransfer(context.Background(), expectation("r1", alice, 1_000000, time.Now()))
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestVerify_WrongRecipientIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.indexer.addInbound("tx-1", alice, 1_000000, time.Now())
	h.indexer.transfers[0].Legs[1].Account = "0.0.6666"

	_, ok, _ := h.verifier.VerifyInboundTransfer(context.Background(), expectation("r1", alice, 1_000000, time.Now()))
	if ok {
		t.Fatal("transfer to another account must not match")
	}
}

func TestVerify_AllAttemptsErrored(t *testing.T) {
	h := newHarness(t, nil)
	h.indexer.err = errors.New("timeout")

	_, ok, err := h.verifier.VerifyInboundTransfer(context.Background(), expectation("r1", alice, 1, time.Now()))
	if ok || err == nil {
		t.Fatalf("ok=%v err=%v, want error", ok, err)
	}
}

func TestVerify_CancelledContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := h.verifier.VerifyInboundTransfer(ctx, expectation("r1", alice, 1, time.Now()))
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

// lateIndexer hides transfers for the first appearAfter queries.
type lateIndexer struct {
	*fakeIndexer
	appearAfter int
	calls       int
}

func (l *lateIndexer) QueryTransfers(ctx context.Context, a ledger.AccountID, since time.Time, tok ledger.TokenID) ([]indexer.Transfer, error) {
	l.calls++
	if l.calls <= l.appearAfter {
		return nil, nil
	}
	return l.fakeIndexer.QueryTransfers(ctx, a, since, tok)
}
