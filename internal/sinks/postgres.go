package sinks

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

const defaultTable = "scrape_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool used for result rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink inserts one row per result.
type PostgresSink struct {
	pool    execCloser
	table   string
	records *RecordBuilder
}

// NewPostgresSink connects a pool using cfg.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, records *RecordBuilder) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
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
	sink, err := NewPostgresSinkWithPool(pool, cfg.Table, records)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresSinkWithPool constructs a sink from an existing pool (primarily for testing).
func NewPostgresSinkWithPool(pool execCloser, table string, records *RecordBuilder) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if records == nil {
		records = NewRecordBuilder(nil)
	}
	return &PostgresSink{pool: pool, table: table, records: records}, nil
}

// Deliver implements scraper.Sink.
func (s *PostgresSink) Deliver(ctx context.Context, res scraper.Result) error {
	rec, err := s.records.Build(res)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	url,
	page_id,
	ok,
	error_kind,
	error_text,
	status_code,
	final_url,
	content_hash,
	content_bytes,
	fetched_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		rec.ID,
		rec.RunID,
		rec.URL,
		rec.PageID,
		rec.OK,
		rec.ErrorKind,
		rec.Error,
		rec.StatusCode,
		rec.FinalURL,
		rec.ContentHash,
		rec.ContentBytes,
		rec.FetchedAt,
		rec.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
