package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/0gfoundation/0g-yield-bridge/internal/audit"
	"github.com/0gfoundation/0g-yield-bridge/internal/deposit"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
	"github.com/0gfoundation/0g-yield-bridge/internal/redemption"
)

type depositView struct {
	Success      bool            `json:"success"`
	ScheduleID   string          `json:"scheduleId"`
	Account      string          `json:"account"`
	StableAmount decimal.Decimal `json:"stableAmount"`
	YieldAmount  decimal.Decimal `json:"yieldAmount"`
	Rate         rate.Record     `json:"rate"`
	State        string          `json:"state"`
	Memo         string          `json:"memo"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	ExecutedAt   *time.Time      `json:"executedAt,omitempty"`
}

func newDepositView(st *deposit.Settlement) depositView {
	v := depositView{
		Success:      true,
		ScheduleID:   string(st.ScheduleID),
		Account:      string(st.UserAccount),
		StableAmount: st.StableAmount,
		YieldAmount:  st.YieldAmount,
		Rate:         st.Rate,
		State:        string(st.State),
		Memo:         st.Memo,
		ExpiresAt:    st.ExpiresAt,
	}
	if !st.ExecutedAt.IsZero() {
		at := st.ExecutedAt
		v.ExecutedAt = &at
	}
	return v
}

type redemptionView struct {
	Success       bool            `json:"success"`
	RequestID     string          `json:"requestId"`
	Account       string          `json:"account"`
	Kind          string          `json:"kind"`
	State         string          `json:"state"`
	YieldAmount   decimal.Decimal `json:"yieldAmount"`
	PayoutAmount  decimal.Decimal `json:"payoutAmount"`
	FeeAmount     decimal.Decimal `json:"feeAmount"`
	Rate          rate.Record     `json:"rate"`
	ScheduleID    string          `json:"scheduleId,omitempty"`
	UnlockAt      time.Time       `json:"unlockAt"`
	InboundTxID   string          `json:"inboundTxId,omitempty"`
	PayoutTxID    string          `json:"payoutTxId,omitempty"`
	RollbackTxID  string          `json:"rollbackTxId,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
}

func newRedemptionView(r *redemption.Request) redemptionView {
	return redemptionView{
		RequestID:     r.RequestID,
		Account:       string(r.UserAccount),
		Kind:          string(r.Kind),
		State:         string(r.State),
		YieldAmount:   r.YieldAmount,
		PayoutAmount:  r.PayoutAmount,
		FeeAmount:     r.FeeAmount,
		Rate:          r.Rate,
		ScheduleID:    string(r.ScheduleID),
		UnlockAt:      r.UnlockAt,
		InboundTxID:   r.InboundTxID,
		PayoutTxID:    r.PayoutTxID,
		RollbackTxID:  r.RollbackTxID,
		FailureReason: r.FailureReason,
	}
}

type transitionView struct {
	Entity    string    `json:"entity"`
	ID        string    `json:"id"`
	FromState string    `json:"fromState"`
	ToState   string    `json:"toState"`
	Amount    string    `json:"amount,omitempty"`
	TxID      string    `json:"txId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

func newTransitionView(t audit.Transition) transitionView {
	return transitionView{
		Entity:    string(t.Entity),
		ID:        t.ID,
		FromState: t.FromState,
		ToState:   t.ToState,
		Amount:    t.Amount,
		TxID:      t.TxID,
		Reason:    t.Reason,
		At:        t.At,
	}
}

func conflictView(current *rate.Record, submitted rate.Record) gin.H {
	return gin.H{
		"conflict":      true,
		"error":         "rate changed",
		"currentRate":   current,
		"submittedRate": submitted,
	}
}
