// Package postgres mirrors measurement records into Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

const defaultTable = "measurements"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Config controls the Postgres connection pool used for measurement rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// MeasurementStore writes one row per audited URL.
type MeasurementStore struct {
	pool  execCloser
	table string
}

// NewMeasurementStore connects to Postgres using cfg.
func NewMeasurementStore(ctx context.Context, cfg Config) (*MeasurementStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewMeasurementStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewMeasurementStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewMeasurementStoreWithPool(pool execCloser, table string) (*MeasurementStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &MeasurementStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *MeasurementStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the measurement table when it does not exist.
func (s *MeasurementStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id       TEXT NOT NULL,
	url          TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	performance  DOUBLE PRECISION,
	speed_index  DOUBLE PRECISION,
	lcp          DOUBLE PRECISION,
	inp          DOUBLE PRECISION,
	cls          DOUBLE PRECISION,
	error        TEXT,
	elapsed_ms   BIGINT NOT NULL,
	measured_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create measurement table: %w", err)
	}
	return nil
}

// SaveRecord inserts rec. Failed outcomes store NULL metrics and the error text.
func (s *MeasurementStore) SaveRecord(ctx context.Context, runID string, rec record.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("measurement store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	outcome,
	performance,
	speed_index,
	lcp,
	inp,
	cls,
	error,
	elapsed_ms,
	measured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{runID, rec.URL, string(rec.Outcome.Kind)}
	args = append(args, metricArgs(rec.Outcome)...)
	args = append(args, errorArg(rec.Outcome), rec.Elapsed.Milliseconds(), rec.MeasuredAt)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

func metricArgs(o record.Outcome) []any {
	if !o.OK() {
		return []any{nil, nil, nil, nil, nil}
	}
	m := o.Metrics
	return []any{m.Performance, m.SpeedIndex, m.LCP, m.INP, m.CLS}
}

func errorArg(o record.Outcome) any {
	if o.OK() {
		return nil
	}
	if o.Err == nil {
		return string(o.Kind)
	}
	return o.Err.Error()
}
