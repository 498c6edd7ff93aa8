// Package postgres writes records into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and target table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// Migrate creates the table when it does not exist.
	Migrate bool `mapstructure:"migrate"`
}

// Hasher fingerprints record content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink inserts one row per record. Rows are keyed by (run_id, source_url);
// a repeated key is ignored.
type Sink struct {
	pool   execCloser
	table  string
	runID  string
	hasher Hasher
	now    func() time.Time
}

// New connects to Postgres.
func New(ctx context.Context, cfg Config, runID string, hasher Hasher) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("output.postgres.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg.Table, runID, hasher)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, runID string, hasher Hasher) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if table == "" {
		table = "shops"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{
		pool:   pool,
		table:  table,
		runID:  runID,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates the table if needed.
func (s *Sink) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id            TEXT        NOT NULL,
	source_url        TEXT        NOT NULL,
	source_query_code TEXT,
	name              TEXT,
	street            TEXT,
	postal_code       TEXT,
	city              TEXT,
	phone             TEXT,
	email             TEXT,
	website           TEXT,
	category          TEXT,
	error             TEXT,
	content_hash      TEXT        NOT NULL,
	scraped_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, source_url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write inserts rec.
func (s *Sink) Write(ctx context.Context, rec record.Record) error {
	if rec.SourceURL == "" {
		return fmt.Errorf("record source url is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	hash, err := s.hasher.Hash(payload)
	if err != nil {
		return fmt.Errorf("hash record: %w", err)
	}
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	source_url,
	source_query_code,
	name,
	street,
	postal_code,
	city,
	phone,
	email,
	website,
	category,
	error,
	content_hash,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (run_id, source_url) DO NOTHING`, s.table)

	args := []any{
		s.runID,
		rec.SourceURL,
		rec.SourceQueryCode,
		rec.Name,
		rec.Street,
		rec.PostalCode,
		rec.City,
		rec.Phone,
		rec.Email,
		rec.Website,
		rec.Category,
		errText,
		hash,
		s.now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record: %w", err)
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
