// Package postgres provides the Postgres-backed outcome ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

const defaultTable = "clips"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = fmt.Errorf("outcome %w", clipper.ErrNotFound)

// Config controls the Postgres connection pool used for outcome rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// OutcomeStore writes one row per pipeline run.
type OutcomeStore struct {
	pool  pool
	table string
}

// NewOutcomeStore connects to Postgres using cfg.
func NewOutcomeStore(ctx context.Context, cfg Config) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &OutcomeStore{pool: p, table: table}, nil
}

// NewOutcomeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOutcomeStoreWithPool(p pool, table string) (*OutcomeStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the pool can reach the database.
func (s *OutcomeStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the outcome table when it does not exist.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	final_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	notebook TEXT NOT NULL DEFAULT '',
	store_path TEXT NOT NULL DEFAULT '',
	document_id TEXT NOT NULL DEFAULT '',
	assets_total INTEGER NOT NULL DEFAULT 0,
	assets_resolved INTEGER NOT NULL DEFAULT 0,
	strategy TEXT NOT NULL DEFAULT '',
	clipped_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// RecordOutcome upserts the row for record.ID; a resubmitted run replaces
// its earlier failure.
func (s *OutcomeStore) RecordOutcome(ctx context.Context, record clipper.OutcomeRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("outcome store is not configured")
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	final_url,
	status,
	reason,
	notebook,
	store_path,
	document_id,
	assets_total,
	assets_resolved,
	strategy,
	clipped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	reason = EXCLUDED.reason,
	store_path = EXCLUDED.store_path,
	document_id = EXCLUDED.document_id,
	clipped_at = EXCLUDED.clipped_at`, s.table)

	args := []any{
		record.ID,
		record.URL,
		record.FinalURL,
		string(record.Status),
		record.Reason,
		record.Notebook,
		record.StorePath,
		record.DocumentID,
		record.AssetsTotal,
		record.AssetsResolved,
		record.Strategy,
		record.ClippedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Get loads the row for id.
func (s *OutcomeStore) Get(ctx context.Context, id string) (clipper.OutcomeRecord, error) {
	query := fmt.Sprintf(`
SELECT id, url, final_url, status, reason, notebook, store_path, document_id,
	assets_total, assets_resolved, strategy, clipped_at
FROM %s WHERE id = $1`, s.table)

	var (
		rec    clipper.OutcomeRecord
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.URL,
		&rec.FinalURL,
		&status,
		&rec.Reason,
		&rec.Notebook,
		&rec.StorePath,
		&rec.DocumentID,
		&rec.AssetsTotal,
		&rec.AssetsResolved,
		&rec.Strategy,
		&rec.ClippedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return clipper.OutcomeRecord{}, ErrNotFound
	}
	if err != nil {
		return clipper.OutcomeRecord{}, fmt.Errorf("select outcome: %w", err)
	}
	rec.Status = clipper.Status(status)
	return rec, nil
}
