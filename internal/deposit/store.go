package deposit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
)

const settlementKeyPrefix = "deposit:schedule:"

// Store persists settlements.
type Store interface {
	Save(ctx context.Context, s *Settlement) error
	Get(ctx context.Context, id ledger.ScheduleID) (*Settlement, error)
	SetState(ctx context.Context, id ledger.ScheduleID, state State, at time.Time) error
}

// RedisStore keeps one hash per settlement. Keys expire Retention after the
// schedule's own expiry, which retires abandoned deposits.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

func settlementKey(id ledger.ScheduleID) string {
	return settlementKeyPrefix + string(id)
}

func (s *RedisStore) Save(ctx context.Context, st *Settlement) error {
	key := settlementKey(st.ScheduleID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"schedule_id", string(st.ScheduleID),
		"user_account", string(st.UserAccount),
		"stable_amount", st.StableAmount.String(),
		"yield_amount", st.YieldAmount.String(),
		"rate_value", st.Rate.Value.String(),
		"rate_seq", st.Rate.SequenceNumber,
		"rate_ts", st.Rate.Timestamp.UnixMilli(),
		"state", string(st.State),
		"memo", st.Memo,
		"created_at", st.CreatedAt.UnixMilli(),
		"expires_at", st.ExpiresAt.UnixMilli(),
		"executed_at", unixMilliOrZero(st.ExecutedAt),
	)
	pipe.ExpireAt(ctx, key, st.ExpiresAt.Add(s.retention))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save settlement %s: %w", st.ScheduleID, err)
	}
	return nil
}

// Get returns nil, nil when the settlement is unknown.
func (s *RedisStore) Get(ctx context.Context, id ledger.ScheduleID) (*Settlement, error) {
	vals, err := s.rdb.HGetAll(ctx, settlementKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get settlement %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return settlementFromMap(vals)
}

func (s *RedisStore) SetState(ctx context.Context, id ledger.ScheduleID, state State, at time.Time) error {
	fields := []any{"state", string(state)}
	if state == StateExecuted {
		fields = append(fields, "executed_at", at.UnixMilli())
	}
	// Only touch existing records; a retired key must not be resurrected without TTL.
	n, err := s.rdb.Exists(ctx, settlementKey(id)).Result()
	if err != nil {
		return fmt.Errorf("set state %s: %w", id, err)
	}
	if n == 0 {
		return ErrUnknownSchedule
	}
	if err := s.rdb.HSet(ctx, settlementKey(id), fields...).Err(); err != nil {
		return fmt.Errorf("set state %s: %w", id, err)
	}
	return nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeFromMilli(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func settlementFromMap(m map[string]string) (*Settlement, error) {
	stable, err := decimal.NewFromString(m["stable_amount"])
	if err != nil {
		return nil, fmt.Errorf("parse stable_amount: %w", err)
	}
	yield, err := decimal.NewFromString(m["yield_amount"])
	if err != nil {
		return nil, fmt.Errorf("parse yield_amount: %w", err)
	}
	rv, err := decimal.NewFromString(m["rate_value"])
	if err != nil {
		return nil, fmt.Errorf("parse rate_value: %w", err)
	}
	return &Settlement{
		ScheduleID:   ledger.ScheduleID(m["schedule_id"]),
		UserAccount:  ledger.AccountID(m["user_account"]),
		StableAmount: stable,
		YieldAmount:  yield,
		Rate: rate.Record{
			Value:          rv,
			SequenceNumber: m["rate_seq"],
			Timestamp:      timeFromMilli(m["rate_ts"]),
		},
		State:      State(m["state"]),
		Memo:       m["memo"],
		CreatedAt:  timeFromMilli(m["created_at"]),
		ExpiresAt:  timeFromMilli(m["expires_at"]),
		ExecutedAt: timeFromMilli(m["executed_at"]),
	}, nil
}
