package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN string `envconfig:"DSN" required:"true"`
}

type stateRow struct {
	bun.BaseModel `bun:"table:call_state"`

	Key       string    `bun:"key,pk"`
	Payload   []byte    `bun:"payload,type:bytea,notnull"`
	ExpiresAt time.Time `bun:"expires_at,nullzero"`
}

// NewPostgresDB opens a bun handle over pgdriver.
func NewPostgresDB(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// PostgresKV keeps entries in the call_state table. Expiry is checked on
// read; Sweep deletes expired rows.
type PostgresKV struct {
	db  bun.IDB
	now func() time.Time
}

var (
	_ KV      = (*PostgresKV)(nil)
	_ Sweeper = (*PostgresKV)(nil)
)

func NewPostgresKV(db bun.IDB) (*PostgresKV, error) {
	if db == nil {
		return nil, errors.New("postgres db is required")
	}
	return &PostgresKV{db: db, now: time.Now}, nil
}

// CreateTable creates call_state when it does not exist yet.
func (p *PostgresKV) CreateTable(ctx context.Context) error {
	_, err := p.db.NewCreateTable().
		Model((*stateRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create call_state: %w", err)
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	row := new(stateRow)
	err := p.db.NewSelect().
		Model(row).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	if p.expired(row) {
		return nil, ErrNotFound
	}
	return row.Payload, nil
}

func (p *PostgresKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := p.upsertQuery(p.newRow(key, value, ttl)).Exec(ctx); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.db.NewDelete().
		Model((*stateRow)(nil)).
		Where("key IN (?)", bun.In(keys)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

func (p *PostgresKV) Sweep(ctx context.Context) (int, error) {
	res, err := p.sweepQuery().Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep call_state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (p *PostgresKV) newRow(key string, value []byte, ttl time.Duration) *stateRow {
	row := &stateRow{Key: key, Payload: value}
	if ttl > 0 {
		row.ExpiresAt = p.now().Add(ttl).UTC()
	}
	return row
}

func (p *PostgresKV) expired(row *stateRow) bool {
	return !row.ExpiresAt.IsZero() && !p.now().Before(row.ExpiresAt)
}

func (p *PostgresKV) upsertQuery(row *stateRow) *bun.InsertQuery {
	return p.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("expires_at = EXCLUDED.expires_at")
}

func (p *PostgresKV) sweepQuery() *bun.DeleteQuery {
	return p.db.NewDelete().
		Model((*stateRow)(nil)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", p.now().UTC())
}
