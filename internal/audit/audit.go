// Package audit keeps an append-only Postgres trail of every deposit and
// redemption state transition. Redis holds the live state; this trail is
// what operators reconcile against.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured indicates the recorder has no pool.
var ErrNotConfigured = errors.New("audit: pool not configured")

type Entity string

const (
	EntityDeposit    Entity = "deposit"
	EntityRedemption Entity = "redemption"
)

// Transition is one state change of a settlement.
type Transition struct {
	Entity    Entity
	ID        string
	Account   string
	FromState string
	ToState   string
	Amount    string
	TxID      string
	Reason    string
	At        time.Time
}

// Recorder persists transitions.
type Recorder interface {
	Record(ctx context.Context, t Transition) error
}

// HistoryReader reads the trail back.
type HistoryReader interface {
	History(ctx context.Context, entity Entity, id string) ([]Transition, error)
	AccountHistory(ctx context.Context, account string, limit int) ([]Transition, error)
}

// Nop discards transitions. Used when no database is configured; reads
// report ErrNotConfigured.
type Nop struct{}

func (Nop) Record(context.Context, Transition) error { return nil }

func (Nop) History(context.Context, Entity, string) ([]Transition, error) {
	return nil, ErrNotConfigured
}

func (Nop) AccountHistory(context.Context, string, int) ([]Transition, error) {
	return nil, ErrNotConfigured
}

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS settlement_transitions (
        id          BIGSERIAL PRIMARY KEY,
        entity      TEXT        NOT NULL,
        entity_id   TEXT        NOT NULL,
        account     TEXT        NOT NULL,
        from_state  TEXT        NOT NULL,
        to_state    TEXT        NOT NULL,
        amount      TEXT        NOT NULL DEFAULT '',
        tx_id       TEXT        NOT NULL DEFAULT '',
        reason      TEXT        NOT NULL DEFAULT '',
        at          TIMESTAMPTZ NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createIndexSQL = `CREATE INDEX IF NOT EXISTS settlement_transitions_entity_idx
        ON settlement_transitions (entity, entity_id, id);`

	createAccountIndexSQL = `CREATE INDEX IF NOT EXISTS settlement_transitions_account_idx
        ON settlement_transitions (account, id);`

	insertTransitionSQL = `INSERT INTO settlement_transitions (
        entity, entity_id, account, from_state, to_state, amount, tx_id, reason, at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	listTransitionsSQL = `SELECT
        entity, entity_id, account, from_state, to_state, amount, tx_id, reason, at
    FROM settlement_transitions
    WHERE entity = $1 AND entity_id = $2
    ORDER BY id;`

	listAccountTransitionsSQL = `SELECT
        entity, entity_id, account, from_state, to_state, amount, tx_id, reason, at
    FROM settlement_transitions
    WHERE account = $1
    ORDER BY id DESC
    LIMIT $2;`
)

// MaxHistory caps one AccountHistory page.
const MaxHistory = 500

// NewPool configures a PostgreSQL connection pool.
func NewPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

// PostgresRecorder writes transitions to settlement_transitions.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

func (r *PostgresRecorder) getPool() (*pgxpool.Pool, error) {
	if r == nil || r.pool == nil {
		return nil, ErrNotConfigured
	}
	return r.pool, nil
}

// EnsureSchema creates the table if missing.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	pool, err := r.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createSchemaSQL, createIndexSQL, createAccountIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create audit schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, t Transition) error {
	pool, err := r.getPool()
	if err != nil {
		return err
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	_, err = pool.Exec(ctx, insertTransitionSQL,
		string(t.Entity), t.ID, t.Account, t.FromState, t.ToState, t.Amount, t.TxID, t.Reason, t.At)
	if err != nil {
		return fmt.Errorf("insert transition %s/%s: %w", t.Entity, t.ID, err)
	}
	return nil
}

// History returns the transitions of one settlement in insertion order.
func (r *PostgresRecorder) History(ctx context.Context, entity Entity, id string) ([]Transition, error) {
	pool, err := r.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listTransitionsSQL, string(entity), id)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	return collectTransitions(rows)
}

// AccountHistory returns the latest transitions touching account, newest
// first. limit is clamped to [1, MaxHistory].
func (r *PostgresRecorder) AccountHistory(ctx context.Context, account string, limit int) ([]Transition, error) {
	pool, err := r.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	rows, err := pool.Query(ctx, listAccountTransitionsSQL, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query account transitions: %w", err)
	}
	return collectTransitions(rows)
}

func collectTransitions(rows pgx.Rows) ([]Transition, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transition, error) {
		var t Transition
		var e string
		err := row.Scan(&e, &t.ID, &t.Account, &t.FromState, &t.ToState, &t.Amount, &t.TxID, &t.Reason, &t.At)
		t.Entity = Entity(e)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan transitions: %w", err)
	}
	return out, nil
}

var (
	_ Recorder      = Nop{}
	_ Recorder      = (*PostgresRecorder)(nil)
	_ HistoryReader = Nop{}
	_ HistoryReader = (*PostgresRecorder)(nil)
)
