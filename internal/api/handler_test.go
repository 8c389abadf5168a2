package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/audit"
	"github.com/0gfoundation/0g-yield-bridge/internal/auth"
	"github.com/0gfoundation/0g-yield-bridge/internal/balance"
	"github.com/0gfoundation/0g-yield-bridge/internal/deposit"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
	"github.com/0gfoundation/0g-yield-bridge/internal/redemption"
	"github.com/0gfoundation/0g-yield-bridge/internal/settler"
)

func init() { gin.SetMode(gin.TestMode) }

const alice ledger.AccountID = "0.0.1001"

var current = rate.Record{Value: decimal.RequireFromString("1.05"), SequenceNumber: "42"}

// ── mocks ─────────────────────────────────────────────────────────────────────

type mockOracle struct {
	rec *rate.Record
	err error
}

func (m mockOracle) Latest(context.Context) (*rate.Record, error) { return m.rec, m.err }

type mockDeposits struct {
	mu        sync.Mutex
	initiate  func(deposit.Request) (deposit.Result, error)
	complete  func(ledger.ScheduleID) (deposit.CompleteResult, error)
	settled   map[ledger.ScheduleID]*deposit.Settlement
	requests  []deposit.Request
	completes []ledger.ScheduleID
}

func (m *mockDeposits) Initiate(_ context.Context, req deposit.Request) (deposit.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.initiate(req)
}

func (m *mockDeposits) Complete(_ context.Context, id ledger.ScheduleID) (deposit.CompleteResult, error) {
	m.mu.Lock()
	m.completes = append(m.completes, id)
	m.mu.Unlock()
	return m.complete(id)
}

func (m *mockDeposits) Get(_ context.Context, id ledger.ScheduleID) (*deposit.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.settled[id]
	if !ok {
		return nil, deposit.ErrUnknownSchedule
	}
	return st, nil
}

type mockRedemptions struct {
	mu          sync.Mutex
	submit      func(redemption.Submission) (redemption.SubmitResult, error)
	requests    map[string]*redemption.Request
	subs        []redemption.Submission
	critical    []string
	criticalErr error
}

func (m *mockRedemptions) Submit(_ context.Context, sub redemption.Submission) (redemption.SubmitResult, error) {
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return m.submit(sub)
}

func (m *mockRedemptions) Get(_ context.Context, id string) (*redemption.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, redemption.ErrNotFound
	}
	return r, nil
}

func (m *mockRedemptions) Critical(context.Context) ([]*redemption.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.criticalErr != nil {
		return nil, m.criticalErr
	}
	out := []*redemption.Request{}
	for _, id := range m.critical {
		out = append(out, m.requests[id])
	}
	return out, nil
}

type mockHistory struct {
	mu      sync.Mutex
	entries []audit.Transition
	err     error
	limits  []int
}

func (m *mockHistory) AccountHistory(_ context.Context, account string, limit int) ([]audit.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	var out []audit.Transition
	for _, t := range m.entries {
		if t.Account == account && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockBatches struct {
	sum settler.Summary
	err error
}

func (m mockBatches) ProcessBatch(context.Context) (settler.Summary, error) { return m.sum, m.err }

// ── harness ───────────────────────────────────────────────────────────────────

type fixture struct {
	router      *gin.Engine
	deposits    *mockDeposits
	redemptions *mockRedemptions
	history     *mockHistory
	actions     []string
}

// testSigned stands in for wallet auth: it trusts X-Test-Account.
func (f *fixture) testSigned(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		f.actions = append(f.actions, action)
		acct := c.GetHeader("X-Test-Account")
		if acct == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(auth.AccountKey, ledger.AccountID(acct))
		c.Next()
	}
}

func newFixture(t *testing.T, oracle rate.Oracle, batches BatchRunner) *fixture {
	t.Helper()
	f := &fixture{
		deposits:    &mockDeposits{settled: map[ledger.ScheduleID]*deposit.Settlement{}},
		redemptions: &mockRedemptions{requests: map[string]*redemption.Request{}},
		history:     &mockHistory{},
	}
	if oracle == nil {
		oracle = mockOracle{rec: &current}
	}
	if batches == nil {
		batches = mockBatches{}
	}
	f.router = gin.New()
	NewHandler(oracle, f.deposits, f.redemptions, batches, f.history, zap.NewNop()).Register(f.router, Middlewares{
		Signed: f.testSigned,
		Admin:  auth.AdminMiddleware("admin-key"),
	})
	return f
}

func (f *fixture) do(method, path string, body any, account ledger.AccountID) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-Test-Account", string(account))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func settlement(id ledger.ScheduleID, owner ledger.AccountID) *deposit.Settlement {
	return &deposit.Settlement{
		ScheduleID:   id,
		UserAccount:  owner,
		StableAmount: decimal.NewFromInt(100),
		YieldAmount:  decimal.RequireFromString("95.238095"),
		Rate:         current,
		State:        deposit.StateScheduleCreated,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

var depositReq = map[string]any{
	"stableAmount": "100",
	"rate":         map[string]any{"rate": "1.05", "sequenceNumber": "42"},
}

// ── GET /api/rate ─────────────────────────────────────────────────────────────

func TestRate(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.do(http.MethodGet, "/api/rate", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if m := decode(t, w); m["rate"] != "1.05" || m["sequenceNumber"] != "42" {
		t.Errorf("body: %v", m)
	}

	for _, o := range []mockOracle{{}, {err: errors.New("mirror down")}} {
		f := newFixture(t, o, nil)
		if w := f.do(http.MethodGet, "/api/rate", nil, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("oracle %+v: status %d", o, w.Code)
		}
	}
}

// ── POST /api/deposit ─────────────────────────────────────────────────────────

func TestDeposit_Scheduled(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.deposits.initiate = func(req deposit.Request) (deposit.Result, error) {
		return deposit.Result{Outcome: deposit.ResultScheduled, Settlement: settlement("0.0.6001", req.UserAccount)}, nil
	}

	w := f.do(http.MethodPost, "/api/deposit", depositReq, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body)
	}
	m := decode(t, w)
	if m["success"] != true || m["scheduleId"] != "0.0.6001" || m["yieldAmount"] != "95.238095" {
		t.Errorf("body: %v", m)
	}
	got := f.deposits.requests[0]
	if got.UserAccount != alice || !got.StableAmount.Equal(decimal.NewFromInt(100)) || got.Rate.SequenceNumber != "42" {
		t.Errorf("forwarded request: %+v", got)
	}
	if len(f.actions) != 1 || f.actions[0] != ActionDeposit {
		t.Errorf("signed action: %v", f.actions)
	}
}

func TestDeposit_UsesSignedPayload(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.deposits.initiate = func(req deposit.Request) (deposit.Result, error) {
		return deposit.Result{Outcome: deposit.ResultScheduled, Settlement: settlement("0.0.6001", req.UserAccount)}, nil
	}
	r := gin.New()
	signed := func(string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(auth.AccountKey, alice)
			c.Set(auth.PayloadKey, json.RawMessage(`{"stableAmount":"7","rate":{"rate":"1.05","sequenceNumber":"42"}}`))
			c.Next()
		}
	}
	NewHandler(mockOracle{rec: &current}, f.deposits, f.redemptions, mockBatches{}, nil, zap.NewNop()).
		Register(r, Middlewares{Signed: signed, Admin: auth.AdminMiddleware("k")})

	body, _ := json.Marshal(depositReq)
	req := httptest.NewRequest(http.MethodPost, "/api/deposit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := f.deposits.requests[0].StableAmount; !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("body must be ignored in favour of the signed payload, got %s", got)
	}
}

func TestDeposit_Outcomes(t *testing.T) {
	cases := []struct {
		name   string
		result deposit.Result
		err    error
		want   int
		check  func(map[string]any) bool
	}{
		{
			name:   "conflict",
			result: deposit.Result{Outcome: deposit.ResultRateConflict, Current: &rate.Record{Value: decimal.RequireFromString("1.06"), SequenceNumber: "43"}},
			want:   http.StatusConflict,
			check: func(m map[string]any) bool {
				cur, _ := m["currentRate"].(map[string]any)
				return m["conflict"] == true && cur["sequenceNumber"] == "43"
			},
		},
		{
			name:   "unavailable",
			result: deposit.Result{Outcome: deposit.ResultRateUnavailable},
			want:   http.StatusServiceUnavailable,
		},
		{
			name: "insufficient user balance",
			result: deposit.Result{
				Outcome:   deposit.ResultInsufficientBalance,
				Side:      deposit.SideUser,
				Shortfall: balance.Check{Status: balance.StatusInsufficient, Available: 5, Required: 100},
			},
			want:  http.StatusBadRequest,
			check: func(m map[string]any) bool { return m["reason"] == "user" },
		},
		{
			name: "invalid",
			err:  fmt.Errorf("%w: amount must be positive", deposit.ErrInvalidRequest),
			want: http.StatusBadRequest,
		},
		{
			name: "ledger down",
			err:  errors.New("gateway timeout"),
			want: http.StatusInternalServerError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			f.deposits.initiate = func(deposit.Request) (deposit.Result, error) { return tc.result, tc.err }
			w := f.do(http.MethodPost, "/api/deposit", depositReq, alice)
			if w.Code != tc.want {
				t.Fatalf("status %d want %d body %s", w.Code, tc.want, w.Body)
			}
			if tc.check != nil && !tc.check(decode(t, w)) {
				t.Errorf("body: %s", w.Body)
			}
		})
	}
}

func TestDeposit_RequiresSignature(t *testing.T) {
	f := newFixture(t, nil, nil)
	if w := f.do(http.MethodPost, "/api/deposit", depositReq, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", w.Code)
	}
}

func TestDeposit_MalformedBody(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.do(http.MethodPost, "/api/deposit", map[string]any{"stableAmount": "lots"}, alice)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	if len(f.deposits.requests) != 0 {
		t.Error("malformed body reached the service")
	}
}

// ── POST /api/deposit/:id/complete ────────────────────────────────────────────

func TestCompleteDeposit(t *testing.T) {
	cases := []struct {
		name   string
		result deposit.CompleteResult
		err    error
		want   int
		status string
	}{
		{"executed", deposit.CompleteResult{Status: deposit.CompleteExecuted}, nil, http.StatusOK, "executed"},
		{"pending", deposit.CompleteResult{Status: deposit.CompletePending}, nil, http.StatusOK, "pending"},
		{"gone", deposit.CompleteResult{Status: deposit.CompleteGone}, nil, http.StatusGone, ""},
		{"sign failed", deposit.CompleteResult{}, errors.New("INVALID_SIGNATURE"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			st := settlement("0.0.6001", alice)
			f.deposits.settled[st.ScheduleID] = st
			f.deposits.complete = func(ledger.ScheduleID) (deposit.CompleteResult, error) {
				res := tc.result
				res.Settlement = st
				return res, tc.err
			}
			w := f.do(http.MethodPost, "/api/deposit/0.0.6001/complete", nil, alice)
			if w.Code != tc.want {
				t.Fatalf("status %d want %d", w.Code, tc.want)
			}
			if tc.status != "" {
				if m := decode(t, w); m["status"] != tc.status {
					t.Errorf("status field: %v", m["status"])
				}
			}
		})
	}
}

func TestCompleteDeposit_UnknownOrForeign(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.deposits.settled["0.0.6001"] = settlement("0.0.6001", "0.0.1002")
	f.deposits.complete = func(ledger.ScheduleID) (deposit.CompleteResult, error) {
		t.Fatal("Complete must not be called")
		return deposit.CompleteResult{}, nil
	}

	for _, path := range []string{"/api/deposit/0.0.6001/complete", "/api/deposit/0.0.6999/complete"} {
		if w := f.do(http.MethodPost, path, nil, alice); w.Code != http.StatusNotFound {
			t.Errorf("%s: status %d", path, w.Code)
		}
	}
}

// ── POST /api/withdraw ────────────────────────────────────────────────────────

func withdrawReq(kind string) map[string]any {
	return map[string]any{
		"yieldAmount": "100",
		"kind":        kind,
		"rate":        map[string]any{"rate": "1.05", "sequenceNumber": "42"},
	}
}

func TestWithdraw_InstantCompleted(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.redemptions.submit = func(sub redemption.Submission) (redemption.SubmitResult, error) {
		return redemption.SubmitResult{
			Status:  redemption.SubmitSettled,
			Outcome: redemption.OutcomeCompleted,
			Request: &redemption.Request{
				RequestID:    "r1",
				UserAccount:  sub.UserAccount,
				Kind:         sub.Kind,
				State:        redemption.StateCompleted,
				PayoutAmount: decimal.RequireFromString("104.475"),
				PayoutTxID:   "0.0.9@1700000000.000000001",
			},
		}, nil
	}
	w := f.do(http.MethodPost, "/api/withdraw", withdrawReq("instant"), alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body)
	}
	m := decode(t, w)
	if m["success"] != true || m["payoutAmount"] != "104.475" || m["state"] != "completed" {
		t.Errorf("body: %v", m)
	}
	if sub := f.redemptions.subs[0]; sub.Kind != redemption.KindInstant || sub.UserAccount != alice {
		t.Errorf("submission: %+v", sub)
	}
}

func TestWithdraw_InstantRefunded(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.redemptions.submit = func(redemption.Submission) (redemption.SubmitResult, error) {
		return redemption.SubmitResult{
			Status:  redemption.SubmitSettled,
			Outcome: redemption.OutcomeFailedRefunded,
			Request: &redemption.Request{RequestID: "r1", State: redemption.StateFailedRefunded, FailureReason: redemption.ReasonInsufficientLiquidity},
		}, nil
	}
	w := f.do(http.MethodPost, "/api/withdraw", withdrawReq("instant"), alice)
	m := decode(t, w)
	if w.Code != http.StatusOK || m["success"] != false || m["failureReason"] != redemption.ReasonInsufficientLiquidity {
		t.Errorf("status %d body %v", w.Code, m)
	}
}

func TestWithdraw_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		res  redemption.SubmitResult
		err  error
		want int
	}{
		{"queued", redemption.SubmitResult{Status: redemption.SubmitQueued, Request: &redemption.Request{RequestID: "r2", State: redemption.StatePending}}, nil, http.StatusAccepted},
		{"conflict", redemption.SubmitResult{Status: redemption.SubmitRateConflict, Current: &current}, nil, http.StatusConflict},
		{"unavailable", redemption.SubmitResult{Status: redemption.SubmitRateUnavailable}, nil, http.StatusServiceUnavailable},
		{"over cap", redemption.SubmitResult{Status: redemption.SubmitOverInstantCap}, nil, http.StatusBadRequest},
		{"invalid", redemption.SubmitResult{}, fmt.Errorf("%w: kind", redemption.ErrInvalidRequest), http.StatusBadRequest},
		{"store down", redemption.SubmitResult{}, errors.New("redis down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			f.redemptions.submit = func(redemption.Submission) (redemption.SubmitResult, error) { return tc.res, tc.err }
			if w := f.do(http.MethodPost, "/api/withdraw", withdrawReq("standard"), alice); w.Code != tc.want {
				t.Errorf("status %d want %d body %s", w.Code, tc.want, w.Body)
			}
		})
	}
}

// ── GET /api/withdraw/:id ─────────────────────────────────────────────────────

func TestGetWithdrawal(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.redemptions.requests["r1"] = &redemption.Request{
		RequestID:     "r1",
		UserAccount:   alice,
		State:         redemption.StateCritical,
		FailureReason: redemption.ReasonCritical,
	}

	w := f.do(http.MethodGet, "/api/withdraw/r1", nil, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if m := decode(t, w); m["state"] != "critical_unresolved" || m["failureReason"] != redemption.ReasonCritical || m["success"] != false {
		t.Errorf("body: %v", m)
	}
	if w := f.do(http.MethodGet, "/api/withdraw/nope", nil, alice); w.Code != http.StatusNotFound {
		t.Errorf("missing: %d", w.Code)
	}
	if got := f.actions[len(f.actions)-1]; got != ActionWithdrawStatus {
		t.Errorf("signed action: got %q", got)
	}
}

func TestGetWithdrawal_ScopedToSignedAccount(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.redemptions.requests["r1"] = &redemption.Request{RequestID: "r1", UserAccount: alice, State: redemption.StatePending}

	if w := f.do(http.MethodGet, "/api/withdraw/r1", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned: %d", w.Code)
	}
	w := f.do(http.MethodGet, "/api/withdraw/r1", nil, "0.0.2002")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign account: status %d", w.Code)
	}
	if m := decode(t, w); m["account"] != nil || m["failureReason"] != nil {
		t.Errorf("foreign account must not see the request: %v", m)
	}
}

// ── GET /api/history ──────────────────────────────────────────────────────────

func TestHistory(t *testing.T) {
	f := newFixture(t, nil, nil)
	at := time.Unix(1700000000, 0).UTC()
	f.history.entries = []audit.Transition{
		{Entity: audit.EntityRedemption, ID: "r1", Account: string(alice), FromState: "processing", ToState: "completed", TxID: "tx-1", At: at},
		{Entity: audit.EntityDeposit, ID: "0.0.6001", Account: "0.0.2002", FromState: "user_signed", ToState: "executed", At: at},
		{Entity: audit.EntityDeposit, ID: "0.0.6002", Account: string(alice), FromState: "user_signed", ToState: "executed", At: at},
	}

	w := f.do(http.MethodGet, "/api/history", nil, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body)
	}
	m := decode(t, w)
	ts, ok := m["transitions"].([]any)
	if !ok || len(ts) != 2 {
		t.Fatalf("transitions: %v", m["transitions"])
	}
	first := ts[0].(map[string]any)
	if first["entity"] != "redemption" || first["toState"] != "completed" || first["txId"] != "tx-1" {
		t.Errorf("first transition: %v", first)
	}
	if m["account"] != string(alice) {
		t.Errorf("account: %v", m["account"])
	}
	if f.history.limits[0] != defaultHistoryLimit {
		t.Errorf("default limit: %d", f.history.limits[0])
	}
	if got := f.actions[len(f.actions)-1]; got != ActionHistory {
		t.Errorf("signed action: got %q", got)
	}
}

func TestHistory_Limit(t *testing.T) {
	f := newFixture(t, nil, nil)
	if w := f.do(http.MethodGet, "/api/history?limit=10", nil, alice); w.Code != http.StatusOK || f.history.limits[0] != 10 {
		t.Errorf("status %d limits %v", w.Code, f.history.limits)
	}
	for _, q := range []string{"0", "-1", "abc", "501"} {
		if w := f.do(http.MethodGet, "/api/history?limit="+q, nil, alice); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status %d", q, w.Code)
		}
	}
	if w := f.do(http.MethodGet, "/api/history", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned: %d", w.Code)
	}
}

func TestHistory_Errors(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.history.err = audit.ErrNotConfigured
	if w := f.do(http.MethodGet, "/api/history", nil, alice); w.Code != http.StatusServiceUnavailable {
		t.Errorf("not configured: %d", w.Code)
	}
	f.history.err = errors.New("connection refused")
	if w := f.do(http.MethodGet, "/api/history", nil, alice); w.Code != http.StatusInternalServerError {
		t.Errorf("db down: %d", w.Code)
	}
}

// ── POST /admin/withdrawals/process ───────────────────────────────────────────

func TestProcessBatch_Admin(t *testing.T) {
	f := newFixture(t, nil, mockBatches{sum: settler.Summary{Processed: 2, Completed: 1, Failed: 1}})

	req := httptest.NewRequest(http.MethodPost, "/admin/withdrawals/process", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without key: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/withdrawals/process", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	m := decode(t, w)
	if m["processed"] != float64(2) || m["completed"] != float64(1) || m["failed"] != float64(1) {
		t.Errorf("body: %v", m)
	}
	if errs, ok := m["errors"].([]any); !ok || len(errs) != 0 {
		t.Errorf("errors must be an empty list: %v", m["errors"])
	}
}

func TestProcessBatch_AlreadyRunning(t *testing.T) {
	f := newFixture(t, nil, mockBatches{err: settler.ErrBatchRunning})
	req := httptest.NewRequest(http.MethodPost, "/admin/withdrawals/process", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d", w.Code)
	}
}

// ── GET /admin/withdrawals/critical ───────────────────────────────────────────

func TestCritical_Admin(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.redemptions.requests["r9"] = &redemption.Request{
		RequestID:     "r9",
		UserAccount:   alice,
		State:         redemption.StateCritical,
		FailureReason: redemption.ReasonCritical,
		InboundTxID:   "tx-in-9",
	}
	f.redemptions.critical = []string{"r9"}

	req := httptest.NewRequest(http.MethodGet, "/admin/withdrawals/critical", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without key: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/withdrawals/critical", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	m := decode(t, w)
	rs, ok := m["requests"].([]any)
	if !ok || len(rs) != 1 || m["count"] != float64(1) {
		t.Fatalf("body: %v", m)
	}
	if r := rs[0].(map[string]any); r["requestId"] != "r9" || r["inboundTxId"] != "tx-in-9" || r["state"] != "critical_unresolved" {
		t.Errorf("request: %v", r)
	}
}

func TestCritical_EmptyAndError(t *testing.T) {
	f := newFixture(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/withdrawals/critical", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if rs, ok := decode(t, w)["requests"].([]any); w.Code != http.StatusOK || !ok || len(rs) != 0 {
		t.Errorf("empty list: status %d body %s", w.Code, w.Body)
	}

	f.redemptions.criticalErr = errors.New("redis down")
	req = httptest.NewRequest(http.MethodGet, "/admin/withdrawals/critical", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status %d", w.Code)
	}
}
