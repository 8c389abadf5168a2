package redemption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/balance"
	"github.com/0gfoundation/0g-yield-bridge/internal/indexer"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/lock"
	"github.com/0gfoundation/0g-yield-bridge/internal/notify"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
	"github.com/0gfoundation/0g-yield-bridge/internal/retry"
)

const (
	alice          ledger.AccountID = "0.0.1001"
	bob            ledger.AccountID = "0.0.1002"
	treasury       ledger.AccountID = "0.0.3003"
	instantWallet  ledger.AccountID = "0.0.4004"
	standardWallet ledger.AccountID = "0.0.4005"
)

var (
	stableAsset = ledger.Asset{Symbol: "USDC", Token: "0.0.7001", Decimals: 6}
	yieldAsset  = ledger.Asset{Symbol: "yUSD", Token: "0.0.7002", Decimals: 6}
)

// ── fake ledger ───────────────────────────────────────────────────────────────

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[ledger.AccountID]map[ledger.TokenID]int64
	transfers []ledger.TransferSpec
	schedules []ledger.ScheduleSpec
	status    map[ledger.ScheduleID]ledger.ScheduleStatus

	// failTransfer returns an error for matching transfers.
	failTransfer func(ledger.TransferSpec) error
	// queryDelay widens the window between balance read and transfer.
	queryDelay time.Duration
	txSeq      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: map[ledger.AccountID]map[ledger.TokenID]int64{
			treasury:       {yieldAsset.Token: 1_000_000_000000},
			instantWallet:  {stableAsset.Token: 1_000_000_000000},
			standardWallet: {stableAsset.Token: 1_000_000_000000},
		},
		status: map[ledger.ScheduleID]ledger.ScheduleStatus{},
	}
}

func (f *fakeLedger) setBalance(a ledger.AccountID, t ledger.TokenID, units int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[a] == nil {
		f.balances[a] = map[ledger.TokenID]int64{}
	}
	f.balances[a][t] = units
}

func (f *fakeLedger) QueryBalance(_ context.Context, a ledger.AccountID, t ledger.TokenID) (int64, error) {
	f.mu.Lock()
	bal := f.balances[a][t]
	delay := f.queryDelay
	f.mu.Unlock()
	time.Sleep(delay)
	return bal, nil
}

func (f *fakeLedger) ExecuteTransfer(ctx context.Context, spec ledger.TransferSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTransfer != nil {
		if err := f.failTransfer(spec); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.balances[spec.From][spec.Token] < spec.Amount {
		return "", errors.New("INSUFFICIENT_TOKEN_BALANCE")
	}
	if f.balances[spec.To] == nil {
		f.balances[spec.To] = map[ledger.TokenID]int64{}
	}
	f.balances[spec.From][spec.Token] -= spec.Amount
	f.balances[spec.To][spec.Token] += spec.Amount
	f.transfers = append(f.transfers, spec)
	f.txSeq++
	return fmt.Sprintf("0.0.9@1700000000.%09d", f.txSeq), nil
}

func (f *fakeLedger) CreateScheduledTransfer(_ context.Context, spec ledger.ScheduleSpec) (ledger.ScheduleID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules = append(f.schedules, spec)
	return ledger.ScheduleID(fmt.Sprintf("0.0.%d", 6000+len(f.schedules))), nil
}

func (f *fakeLedger) QueryScheduleStatus(_ context.Context, id ledger.ScheduleID) (ledger.ScheduleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id], nil
}

func (f *fakeLedger) transfersFrom(a ledger.AccountID) []ledger.TransferSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.TransferSpec
	for _, t := range f.transfers {
		if t.From == a {
			out = append(out, t)
		}
	}
	return out
}

// ── fake indexer ──────────────────────────────────────────────────────────────

type fakeIndexer struct {
	mu        sync.Mutex
	transfers []indexer.Transfer
	err       error
	calls     int
	// limit caps one query's result like the mirror node's page limit.
	limit int
	// onQuery runs before each query with the 1-based call number.
	onQuery func(call int)
}

func (f *fakeIndexer) QueryTransfers(_ context.Context, a ledger.AccountID, since time.Time, tok ledger.TokenID) ([]indexer.Transfer, error) {
	f.mu.Lock()
	f.calls++
	call, hook := f.calls, f.onQuery
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []indexer.Transfer
	for _, t := range f.transfers {
		if t.Account == a && t.Token == tok && !t.ConsensusAt.Before(since) {
			out = append(out, t)
		}
		if f.limit > 0 && len(out) == f.limit {
			break
		}
	}
	return out, nil
}

// addInbound records a successful user -> treasury yield transfer.
func (f *fakeIndexer) addInbound(txID string, from ledger.AccountID, units int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	legs := []ledger.Leg{
		{Account: from, Token: yieldAsset.Token, Amount: -units},
		{Account: treasury, Token: yieldAsset.Token, Amount: units},
	}
	f.transfers = append(f.transfers, indexer.Transfer{
		TransactionID: txID,
		ConsensusAt:   at,
		Result:        "SUCCESS",
		Account:       from,
		Token:         yieldAsset.Token,
		Amount:        -units,
		Legs:          legs,
	})
}

func (f *fakeIndexer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ── oracle ────────────────────────────────────────────────────────────────────

type fixedOracle struct{ rec rate.Record }

func (o fixedOracle) Latest(context.Context) (*rate.Record, error) {
	r := o.rec
	return &r, nil
}

var testRate = rate.Record{Value: decimal.RequireFromString("1.05"), SequenceNumber: "42", Timestamp: time.Unix(1700000000, 0)}

// ── harness ───────────────────────────────────────────────────────────────────

type harness struct {
	mr       *miniredis.Miniredis
	store    *RedisStore
	ledger   *fakeLedger
	indexer  *fakeIndexer
	verifier *Verifier
	engine   *Engine
	intake   *Intake
	dispatch *notify.Dispatcher
}

func fastPolicy() retry.Policy {
	d := make([]time.Duration, 8)
	for i := range d {
		d[i] = time.Millisecond
	}
	return retry.Policy{Delays: d}
}

func newHarness(t *testing.T, log *zap.Logger) *harness {
	t.Helper()
	if log == nil {
		log = zap.NewNop()
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := &harness{
		mr:      mr,
		store:   NewRedisStore(rdb),
		ledger:  newFakeLedger(),
		indexer: &fakeIndexer{},
	}
	h.verifier = NewVerifier(h.indexer, h.store, fastPolicy(), time.Minute, log)
	h.dispatch = notify.NewDispatcher(nil, time.Second, log)
	locker := lock.NewLocker(rdb, lock.Options{TTL: time.Minute, WaitTimeout: 10 * time.Second, PollInterval: time.Millisecond})
	h.engine = NewEngine(
		h.store, h.verifier, h.ledger,
		balance.NewGuard(h.ledger, log),
		h.ledger, locker, nil, h.dispatch,
		EngineOptions{
			Stable:        stableAsset,
			Yield:         yieldAsset,
			Wallets:       Wallets{Treasury: treasury, InstantPayout: instantWallet, StandardPayout: standardWallet},
			InstantFeeBps: 50,
		},
		log,
	)
	h.intake = NewIntake(
		rate.NewValidator(fixedOracle{rec: testRate}, log),
		h.store, h.engine, h.ledger,
		IntakeOptions{InstantMax: decimal.NewFromInt(10_000), LockPeriod: 7 * 24 * time.Hour},
		log,
	)
	return h
}

// seedProcessing stores a request already claimed for processing.
func (h *harness) seedProcessing(t *testing.T, id string, kind Kind, account ledger.AccountID, yield string) *Request {
	t.Helper()
	now := time.Now()
	r := &Request{
		RequestID:   id,
		UserAccount: account,
		YieldAmount: decimal.RequireFromString(yield),
		Rate:        testRate,
		Kind:        kind,
		State:       StatePending,
		SubmittedAt: now,
		UnlockAt:    now,
		UpdatedAt:   now,
	}
	if kind == KindStandard {
		r.ScheduleID = ledger.ScheduleID("0.0.sched-" + id)
	}
	if err := h.store.Create(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if ok, err := h.store.Transition(context.Background(), id, StatePending, StateProcessing); err != nil || !ok {
		t.Fatalf("claim %s: ok=%v err=%v", id, ok, err)
	}
	r.State = StateProcessing
	return r
}

func (h *harness) stored(t *testing.T, id string) *Request {
	t.Helper()
	r, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return r
}
