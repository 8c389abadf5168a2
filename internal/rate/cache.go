package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKey = "rate:latest"

// CachedOracle fronts a source oracle with a short-lived Redis copy so that
// request bursts do not hammer the mirror node. Empty results are not cached.
type CachedOracle struct {
	rdb    *redis.Client
	source Oracle
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedOracle(rdb *redis.Client, source Oracle, ttl time.Duration, log *zap.Logger) *CachedOracle {
	return &CachedOracle{rdb: rdb, source: source, ttl: ttl, log: log}
}

func (c *CachedOracle) Latest(ctx context.Context) (*Record, error) {
	raw, err := c.rdb.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var rec Record
		if jerr := json.Unmarshal(raw, &rec); jerr == nil {
			return &rec, nil
		}
		c.log.Warn("discarding corrupt cached rate", zap.ByteString("raw", raw))
	case errors.Is(err, redis.Nil):
	default:
		// Cache outage degrades to the source.
		c.log.Warn("rate cache read failed", zap.Error(err))
	}

	rec, err := c.source.Latest(ctx)
	if err != nil || rec == nil {
		return rec, err
	}
	if b, jerr := json.Marshal(rec); jerr == nil {
		if serr := c.rdb.Set(ctx, cacheKey, b, c.ttl).Err(); serr != nil {
			c.log.Warn("rate cache write failed", zap.Error(serr))
		}
	}
	return rec, nil
}

// Invalidate drops the cached record.
func (c *CachedOracle) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, cacheKey).Err(); err != nil {
		return fmt.Errorf("invalidate rate cache: %w", err)
	}
	return nil
}
