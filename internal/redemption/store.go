package redemption

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
)

const (
	requestKeyPrefix = "redemption:req:"
	queueKey         = "redemption:queue:standard"
	criticalKey      = "redemption:critical"
	claimedKeyPrefix = "redemption:claimed:"
)

// Store persists requests, the due-queue and inbound transfer claims.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// Save overwrites the request. Terminal requests leave the queue.
	Save(ctx context.Context, r *Request) error
	// Transition moves state from -> to atomically; false if state was not from.
	Transition(ctx context.Context, id string, from, to State) (bool, error)
	Enqueue(ctx context.Context, id string, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Dequeue(ctx context.Context, id string) error
	PushCritical(ctx context.Context, id string) error
	Critical(ctx context.Context) ([]string, error)
	InboundClaimer
}

// InboundClaimer binds an inbound ledger transaction to one request.
type InboundClaimer interface {
	// ClaimInbound returns true if txID is unclaimed or already claimed by requestID.
	ClaimInbound(ctx context.Context, txID, requestID string) (bool, error)
}

var transitionScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "state") == ARGV[1] then
	redis.call("HSET", KEYS[1], "state", ARGV[2], "updated_at", ARGV[3])
	return 1
end
return 0
`)

var claimScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
if cur == ARGV[1] then
	return 1
end
return 0
`)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func requestKey(id string) string { return requestKeyPrefix + id }

func requestFields(r *Request) []any {
	return []any{
		"request_id", r.RequestID,
		"user_account", string(r.UserAccount),
		"yield_amount", r.YieldAmount.String(),
		"rate_value", r.Rate.Value.String(),
		"rate_seq", r.Rate.SequenceNumber,
		"rate_ts", milli(r.Rate.Timestamp),
		"kind", string(r.Kind),
		"state", string(r.State),
		"schedule_id", string(r.ScheduleID),
		"inbound_tx_id", r.InboundTxID,
		"submitted_at", milli(r.SubmittedAt),
		"unlock_at", milli(r.UnlockAt),
		"updated_at", milli(r.UpdatedAt),
		"payout_amount", r.PayoutAmount.String(),
		"fee_amount", r.FeeAmount.String(),
		"payout_tx_id", r.PayoutTxID,
		"rollback_tx_id", r.RollbackTxID,
		"failure_reason", r.FailureReason,
	}
}

func (s *RedisStore) Create(ctx context.Context, r *Request) error {
	ok, err := s.rdb.HSetNX(ctx, requestKey(r.RequestID), "request_id", r.RequestID).Result()
	if err != nil {
		return fmt.Errorf("create request %s: %w", r.RequestID, err)
	}
	if !ok {
		return fmt.Errorf("create request %s: already exists", r.RequestID)
	}
	if err := s.rdb.HSet(ctx, requestKey(r.RequestID), requestFields(r)...).Err(); err != nil {
		return fmt.Errorf("create request %s: %w", r.RequestID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Request, error) {
	vals, err := s.rdb.HGetAll(ctx, requestKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return requestFromMap(vals)
}

func (s *RedisStore) Save(ctx context.Context, r *Request) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, requestKey(r.RequestID), requestFields(r)...)
	if r.State.Terminal() {
		pipe.ZRem(ctx, queueKey, r.RequestID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save request %s: %w", r.RequestID, err)
	}
	return nil
}

func (s *RedisStore) Transition(ctx context.Context, id string, from, to State) (bool, error) {
	n, err := transitionScript.Run(ctx, s.rdb, []string{requestKey(id)},
		string(from), string(to), time.Now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("transition %s %s->%s: %w", id, from, to, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Enqueue(ctx context.Context, id string, at time.Time) error {
	return s.rdb.ZAdd(ctx, queueKey, redis.Z{Score: float64(at.UnixMilli()), Member: id}).Err()
}

// Due returns queued ids whose unlock time has passed, oldest first.
func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("due requests: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Dequeue(ctx context.Context, id string) error {
	return s.rdb.ZRem(ctx, queueKey, id).Err()
}

func (s *RedisStore) PushCritical(ctx context.Context, id string) error {
	return s.rdb.RPush(ctx, criticalKey, id).Err()
}

func (s *RedisStore) Critical(ctx context.Context) ([]string, error) {
	return s.rdb.LRange(ctx, criticalKey, 0, -1).Result()
}

func (s *RedisStore) ClaimInbound(ctx context.Context, txID, requestID string) (bool, error) {
	n, err := claimScript.Run(ctx, s.rdb, []string{claimedKeyPrefix + txID}, requestID).Int()
	if err != nil {
		return false, fmt.Errorf("claim inbound %s: %w", txID, err)
	}
	return n == 1, nil
}

func milli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func parseDecimal(m map[string]string, field string) (decimal.Decimal, error) {
	v := m[field]
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func requestFromMap(m map[string]string) (*Request, error) {
	var errs []error
	yield, err := parseDecimal(m, "yield_amount")
	errs = append(errs, err)
	rv, err := parseDecimal(m, "rate_value")
	errs = append(errs, err)
	payout, err := parseDecimal(m, "payout_amount")
	errs = append(errs, err)
	fee, err := parseDecimal(m, "fee_amount")
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("request %s: %w", m["request_id"], err)
	}

	return &Request{
		RequestID:   m["request_id"],
		UserAccount: ledger.AccountID(m["user_account"]),
		YieldAmount: yield,
		Rate: rate.Record{
			Value:          rv,
			SequenceNumber: m["rate_seq"],
			Timestamp:      fromMilli(m["rate_ts"]),
		},
		Kind:          Kind(m["kind"]),
		State:         State(m["state"]),
		ScheduleID:    ledger.ScheduleID(m["schedule_id"]),
		InboundTxID:   m["inbound_tx_id"],
		SubmittedAt:   fromMilli(m["submitted_at"]),
		UnlockAt:      fromMilli(m["unlock_at"]),
		UpdatedAt:     fromMilli(m["updated_at"]),
		PayoutAmount:  payout,
		FeeAmount:     fee,
		PayoutTxID:    m["payout_tx_id"],
		RollbackTxID:  m["rollback_tx_id"],
		FailureReason: m["failure_reason"],
	}, nil
}

var _ Store = (*RedisStore)(nil)
