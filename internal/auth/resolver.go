package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-yield-bridge/internal/indexer"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
)

// ErrUnsupportedKey is returned for accounts whose key cannot sign EIP-191 messages.
var ErrUnsupportedKey = errors.New("account key is not ECDSA secp256k1")

const keyTypeECDSA = "ECDSA_SECP256K1"

// AccountResolver maps a ledger account to the EVM address allowed to sign for it.
type AccountResolver interface {
	ResolveAddress(ctx context.Context, account ledger.AccountID) (common.Address, error)
}

// AccountInfoReader is the indexer call the resolver needs.
type AccountInfoReader interface {
	AccountInfo(ctx context.Context, id ledger.AccountID) (*indexer.AccountKey, error)
}

// IndexerResolver resolves accounts through the mirror node and caches the
// answer in Redis.
type IndexerResolver struct {
	reader AccountInfoReader
	rdb    *redis.Client
	ttl    time.Duration
}

func NewIndexerResolver(reader AccountInfoReader, rdb *redis.Client, ttl time.Duration) *IndexerResolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &IndexerResolver{reader: reader, rdb: rdb, ttl: ttl}
}

func (r *IndexerResolver) ResolveAddress(ctx context.Context, account ledger.AccountID) (common.Address, error) {
	key := "auth:addr:" + string(account)
	if cached, err := r.rdb.Get(ctx, key).Result(); err == nil && common.IsHexAddress(cached) {
		return common.HexToAddress(cached), nil
	}

	info, err := r.reader.AccountInfo(ctx, account)
	if err != nil {
		return common.Address{}, fmt.Errorf("account %s: %w", account, err)
	}
	if info.KeyType != keyTypeECDSA {
		return common.Address{}, fmt.Errorf("%w: %s has %q", ErrUnsupportedKey, account, info.KeyType)
	}
	addr, err := AddressFromPublicKey(info.PublicKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("account %s: %w", account, err)
	}
	// Best effort; a cache miss only costs another lookup.
	_ = r.rdb.Set(ctx, key, addr.Hex(), r.ttl).Err()
	return addr, nil
}
