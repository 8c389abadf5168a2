// Package ledger is the bridge's view of the distributed ledger: entity ids,
// scheduled multi-party transfers and plain transfers. Each capability the
// settlement flows need is its own interface so callers depend only on what
// they use.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrScheduleDeleted means the schedule expired or was deleted before execution.
	ErrScheduleDeleted = errors.New("ledger: schedule deleted")
	// ErrScheduleNotFound means the ledger has no schedule with that id.
	ErrScheduleNotFound = errors.New("ledger: schedule not found")
)

// EntityID is a shard.realm.num ledger identifier.
type EntityID struct {
	Shard int64
	Realm int64
	Num   int64
}

// ParseEntityID parses "0.0.1234".
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return EntityID{}, fmt.Errorf("invalid entity id %q", s)
	}
	var out [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return EntityID{}, fmt.Errorf("invalid entity id %q", s)
		}
		out[i] = n
	}
	return EntityID{Shard: out[0], Realm: out[1], Num: out[2]}, nil
}

func (e EntityID) String() string {
	return fmt.Sprintf("%d.%d.%d", e.Shard, e.Realm, e.Num)
}

// EVMAddress returns the long-zero alias: 4 bytes shard, 8 bytes realm, 8 bytes num.
func (e EntityID) EVMAddress() common.Address {
	var b [20]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(e.Shard))
	binary.BigEndian.PutUint64(b[4:12], uint64(e.Realm))
	binary.BigEndian.PutUint64(b[12:20], uint64(e.Num))
	return common.BytesToAddress(b[:])
}

// AccountID identifies a ledger account ("0.0.x").
type AccountID string

// TokenID identifies a fungible token ("0.0.x").
type TokenID string

// ScheduleID identifies a scheduled transaction.
type ScheduleID string

// Entity parses the account id.
func (a AccountID) Entity() (EntityID, error) { return ParseEntityID(string(a)) }

// Entity parses the token id.
func (t TokenID) Entity() (EntityID, error) { return ParseEntityID(string(t)) }

// Leg is one signed balance change of a token transfer, in smallest units.
// Negative amounts debit the account.
type Leg struct {
	Account AccountID `json:"account"`
	Token   TokenID   `json:"token"`
	Amount  int64     `json:"amount"`
}

// ScheduleSpec describes a multi-party scheduled transfer.
type ScheduleSpec struct {
	Legs      []Leg     `json:"legs"`
	Memo      string    `json:"memo"`
	ExpiresAt time.Time `json:"expiresAt"`
	Payer     AccountID `json:"payer"`
	// AdminKey is the hex public key allowed to delete the schedule.
	AdminKey string `json:"adminKey,omitempty"`
}

// Validate checks that legs net to zero per token and the memo fits the ledger limit.
func (s ScheduleSpec) Validate() error {
	if len(s.Legs) == 0 {
		return errors.New("schedule has no legs")
	}
	if len(s.Memo) > MaxMemoBytes {
		return fmt.Errorf("memo is %d bytes, limit %d", len(s.Memo), MaxMemoBytes)
	}
	net := make(map[TokenID]int64)
	for _, l := range s.Legs {
		if l.Amount == 0 {
			return fmt.Errorf("zero amount leg for %s", l.Account)
		}
		net[l.Token] += l.Amount
	}
	for tok, n := range net {
		if n != 0 {
			return fmt.Errorf("legs for token %s do not balance (net %d)", tok, n)
		}
	}
	return nil
}

// MaxMemoBytes is the ledger's transaction memo limit.
const MaxMemoBytes = 100

// ScheduleStatus is the execution state of a scheduled transaction.
type ScheduleStatus struct {
	Executed   bool
	Deleted    bool
	ExecutedAt time.Time
}

// TransferSpec is a single-direction token transfer signed by the service.
type TransferSpec struct {
	From   AccountID `json:"from"`
	To     AccountID `json:"to"`
	Token  TokenID   `json:"token"`
	Amount int64     `json:"amount"`
	Memo   string    `json:"memo"`
}

// ── Capabilities ─────────────────────────────────────────────────────────────

type ScheduleCreator interface {
	CreateScheduledTransfer(ctx context.Context, spec ScheduleSpec) (ScheduleID, error)
}

// ScheduleSigner adds the issuer signature. executed reports whether the
// schedule ran as a result (all required signatures present).
type ScheduleSigner interface {
	SignSchedule(ctx context.Context, id ScheduleID) (executed bool, err error)
}

type ScheduleStatusReader interface {
	QueryScheduleStatus(ctx context.Context, id ScheduleID) (ScheduleStatus, error)
}

// BalanceReader returns the token balance of an account in smallest units.
type BalanceReader interface {
	QueryBalance(ctx context.Context, account AccountID, token TokenID) (int64, error)
}

type TransferExecutor interface {
	ExecuteTransfer(ctx context.Context, spec TransferSpec) (txID string, err error)
}
