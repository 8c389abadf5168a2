// Package api exposes deposit and redemption flows over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/audit"
	"github.com/0gfoundation/0g-yield-bridge/internal/auth"
	"github.com/0gfoundation/0g-yield-bridge/internal/deposit"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
	"github.com/0gfoundation/0g-yield-bridge/internal/redemption"
	"github.com/0gfoundation/0g-yield-bridge/internal/settler"
)

// Deposits is satisfied by deposit.Service.
type Deposits interface {
	Initiate(ctx context.Context, req deposit.Request) (deposit.Result, error)
	Complete(ctx context.Context, id ledger.ScheduleID) (deposit.CompleteResult, error)
	Get(ctx context.Context, id ledger.ScheduleID) (*deposit.Settlement, error)
}

// Redemptions is satisfied by redemption.Intake.
type Redemptions interface {
	Submit(ctx context.Context, sub redemption.Submission) (redemption.SubmitResult, error)
	Get(ctx context.Context, id string) (*redemption.Request, error)
	Critical(ctx context.Context) ([]*redemption.Request, error)
}

// History is satisfied by audit.PostgresRecorder and audit.Nop.
type History interface {
	AccountHistory(ctx context.Context, account string, limit int) ([]audit.Transition, error)
}

// BatchRunner is satisfied by settler.Worker.
type BatchRunner interface {
	ProcessBatch(ctx context.Context) (settler.Summary, error)
}

// Middlewares are the auth layers applied to protected routes.
type Middlewares struct {
	// Signed returns the wallet-signature check for an action.
	Signed func(action string) gin.HandlerFunc
	Admin  gin.HandlerFunc
}

// Signed actions.
const (
	ActionDeposit         = "deposit"
	ActionCompleteDeposit = "deposit_complete"
	ActionWithdraw        = "withdraw"
	ActionWithdrawStatus  = "withdraw_status"
	ActionHistory         = "history"
)

const defaultHistoryLimit = 50

type Handler struct {
	oracle      rate.Oracle
	deposits    Deposits
	redemptions Redemptions
	batches     BatchRunner
	history     History
	log         *zap.Logger
}

func NewHandler(oracle rate.Oracle, deposits Deposits, redemptions Redemptions, batches BatchRunner, history History, log *zap.Logger) *Handler {
	if history == nil {
		history = audit.Nop{}
	}
	return &Handler{oracle: oracle, deposits: deposits, redemptions: redemptions, batches: batches, history: history, log: log}
}

// Register mounts all routes on r.
func (h *Handler) Register(r gin.IRouter, mw Middlewares) {
	api := r.Group("/api")
	api.GET("/rate", h.handleRate)
	api.POST("/deposit", mw.Signed(ActionDeposit), h.handleDeposit)
	api.POST("/deposit/:scheduleId/complete", mw.Signed(ActionCompleteDeposit), h.handleCompleteDeposit)
	api.POST("/withdraw", mw.Signed(ActionWithdraw), h.handleWithdraw)
	api.GET("/withdraw/:id", mw.Signed(ActionWithdrawStatus), h.handleGetWithdrawal)
	api.GET("/history", mw.Signed(ActionHistory), h.handleHistory)

	admin := r.Group("/admin", mw.Admin)
	admin.POST("/withdrawals/process", h.handleProcess)
	admin.GET("/withdrawals/critical", h.handleCritical)
}

// ── Rate ──────────────────────────────────────────────────────────────────────

func (h *Handler) handleRate(c *gin.Context) {
	rec, err := h.oracle.Latest(c.Request.Context())
	if err != nil {
		h.log.Warn("rate lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate oracle unavailable"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no rate published"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ── Deposit ───────────────────────────────────────────────────────────────────

type depositBody struct {
	StableAmount decimal.Decimal `json:"stableAmount"`
	Rate         rate.Record     `json:"rate"`
}

func (h *Handler) handleDeposit(c *gin.Context) {
	var body depositBody
	if !bindSigned(c, &body) {
		return
	}
	account := signedAccount(c)

	res, err := h.deposits.Initiate(c.Request.Context(), deposit.Request{
		UserAccount:  account,
		StableAmount: body.StableAmount,
		Rate:         body.Rate,
	})
	if errors.Is(err, deposit.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "reason": err.Error()})
		return
	}
	if err != nil {
		h.log.Error("deposit initiate", zap.String("account", string(account)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch res.Outcome {
	case deposit.ResultScheduled:
		c.JSON(http.StatusOK, newDepositView(res.Settlement))
	case deposit.ResultRateConflict:
		c.JSON(http.StatusConflict, conflictView(res.Current, res.Submitted))
	case deposit.ResultRateUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate unavailable"})
	case deposit.ResultInsufficientBalance:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "insufficient balance",
			"reason":    string(res.Side),
			"available": res.Shortfall.Available,
			"required":  res.Shortfall.Required,
		})
	}
}

func (h *Handler) handleCompleteDeposit(c *gin.Context) {
	id := ledger.ScheduleID(c.Param("scheduleId"))
	ctx := c.Request.Context()

	st, err := h.deposits.Get(ctx, id)
	if errors.Is(err, deposit.ErrUnknownSchedule) || (err == nil && st.UserAccount != signedAccount(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown schedule"})
		return
	}
	if err != nil {
		h.log.Error("deposit lookup", zap.String("schedule", string(id)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	res, err := h.deposits.Complete(ctx, id)
	if errors.Is(err, deposit.ErrUnknownSchedule) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown schedule"})
		return
	}
	if err != nil {
		h.log.Error("deposit complete", zap.String("schedule", string(id)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signing failed", "reason": err.Error()})
		return
	}

	switch res.Status {
	case deposit.CompleteExecuted:
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"status":          "executed",
			"alreadyExecuted": res.AlreadyExecuted,
			"settlement":      newDepositView(res.Settlement),
		})
	case deposit.CompletePending:
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"status":     "pending",
			"settlement": newDepositView(res.Settlement),
		})
	case deposit.CompleteGone:
		c.JSON(http.StatusGone, gin.H{"error": "schedule expired or deleted"})
	}
}

// ── Withdraw ──────────────────────────────────────────────────────────────────

type withdrawBody struct {
	YieldAmount decimal.Decimal `json:"yieldAmount"`
	Rate        rate.Record     `json:"rate"`
	Kind        redemption.Kind `json:"kind"`
}

func (h *Handler) handleWithdraw(c *gin.Context) {
	var body withdrawBody
	if !bindSigned(c, &body) {
		return
	}
	account := signedAccount(c)

	res, err := h.redemptions.Submit(c.Request.Context(), redemption.Submission{
		UserAccount: account,
		YieldAmount: body.YieldAmount,
		Rate:        body.Rate,
		Kind:        body.Kind,
	})
	if errors.Is(err, redemption.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "reason": err.Error()})
		return
	}
	if err != nil {
		h.log.Error("withdraw submit", zap.String("account", string(account)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch res.Status {
	case redemption.SubmitSettled:
		view := newRedemptionView(res.Request)
		view.Success = res.Outcome == redemption.OutcomeCompleted
		c.JSON(http.StatusOK, view)
	case redemption.SubmitQueued:
		c.JSON(http.StatusAccepted, newRedemptionView(res.Request))
	case redemption.SubmitRateConflict:
		c.JSON(http.StatusConflict, conflictView(res.Current, res.Submitted))
	case redemption.SubmitRateUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate unavailable"})
	case redemption.SubmitOverInstantCap:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid request",
			"reason": "amount exceeds the instant redemption limit, use standard",
		})
	}
}

func (h *Handler) handleGetWithdrawal(c *gin.Context) {
	r, err := h.redemptions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, redemption.ErrNotFound) || (err == nil && r.UserAccount != signedAccount(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	if err != nil {
		h.log.Error("withdraw lookup", zap.String("request", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	view := newRedemptionView(r)
	view.Success = r.State == redemption.StateCompleted
	c.JSON(http.StatusOK, view)
}

// ── History ───────────────────────────────────────────────────────────────────

func (h *Handler) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > audit.MaxHistory {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "reason": "limit must be between 1 and " + strconv.Itoa(audit.MaxHistory)})
			return
		}
		limit = n
	}
	account := signedAccount(c)

	ts, err := h.history.AccountHistory(c.Request.Context(), string(account), limit)
	if errors.Is(err, audit.ErrNotConfigured) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history unavailable"})
		return
	}
	if err != nil {
		h.log.Error("history lookup", zap.String("account", string(account)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	views := make([]transitionView, 0, len(ts))
	for _, t := range ts {
		views = append(views, newTransitionView(t))
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "transitions": views})
}

// ── Admin ─────────────────────────────────────────────────────────────────────

func (h *Handler) handleProcess(c *gin.Context) {
	sum, err := h.batches.ProcessBatch(c.Request.Context())
	if errors.Is(err, settler.ErrBatchRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "batch already running"})
		return
	}
	if err != nil {
		h.log.Error("manual batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sum.Errors == nil {
		sum.Errors = []string{}
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) handleCritical(c *gin.Context) {
	rs, err := h.redemptions.Critical(c.Request.Context())
	if err != nil {
		h.log.Error("critical list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]redemptionView, 0, len(rs))
	for _, r := range rs {
		views = append(views, newRedemptionView(r))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "requests": views})
}

// ── helpers ───────────────────────────────────────────────────────────────────

// bindSigned decodes the signed payload, falling back to the body when the
// route runs without signature middleware.
func bindSigned(c *gin.Context, out any) bool {
	var err error
	if raw, ok := c.Get(auth.PayloadKey); ok {
		err = json.Unmarshal(raw.(json.RawMessage), out)
	} else {
		err = c.ShouldBindJSON(out)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "reason": err.Error()})
		return false
	}
	return true
}

func signedAccount(c *gin.Context) ledger.AccountID {
	v, _ := c.Get(auth.AccountKey)
	a, _ := v.(ledger.AccountID)
	return a
}
