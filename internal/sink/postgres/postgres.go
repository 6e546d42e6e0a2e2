// Package postgres persists records into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/hash/sha256"
)

// DefaultTable receives records when no table is configured.
const DefaultTable = "thread_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and destination table.
type Config struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink inserts one row per record, tagged with the run id.
type Sink struct {
	pool   execCloser
	table  string
	runID  string
	hasher crawler.Hasher
	now    func() time.Time
}

// New connects to Postgres and makes sure the table exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("output.postgres_dsn is required")
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Sink{pool: pool, table: table, runID: cfg.RunID, hasher: sha256.New(), now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool builds a sink over an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, runID string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: name, runID: runID, hasher: sha256.New(), now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the records table if it is missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id         TEXT NOT NULL,
	thread_id      TEXT NOT NULL,
	title          TEXT NOT NULL,
	content        TEXT NOT NULL,
	content_raw    TEXT NOT NULL,
	content_sha256 TEXT NOT NULL,
	fetched_at     TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write inserts record.
func (s *Sink) Write(ctx context.Context, record crawler.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	digest, err := s.hasher.Hash([]byte(record.RawContent))
	if err != nil {
		return fmt.Errorf("hash record %s: %w", record.ID, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	thread_id,
	title,
	content,
	content_raw,
	content_sha256,
	fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.table)

	_, err = s.pool.Exec(ctx, query,
		s.runID,
		record.ID,
		record.Title,
		record.Content,
		record.RawContent,
		digest,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", record.ID, err)
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
