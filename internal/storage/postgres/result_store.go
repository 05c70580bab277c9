// Package postgres records finished crawl results in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/store"
)

var (
	_ crawler.ResultStore = (*ResultStore)(nil)
	_ store.ResultReader  = (*ResultStore)(nil)
)

const defaultTable = "crawl_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ResultStore writes one row per finished crawl job.
//
// Expected schema:
//
//	CREATE TABLE crawl_results (
//		job_id           TEXT PRIMARY KEY,
//		root_url         TEXT NOT NULL,
//		requesting_user  TEXT NOT NULL,
//		output_file_name TEXT NOT NULL,
//		location         TEXT,
//		outcome          TEXT NOT NULL,
//		elapsed_ms       BIGINT NOT NULL,
//		finished_at      TIMESTAMPTZ NOT NULL
//	);
type ResultStore struct {
	pool  pool
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pgPool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping runs a trivial query to confirm the database answers.
func (s *ResultStore) Ping(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping results database: %w", err)
	}
	return nil
}

// RecordResult upserts the row for result.JobID. A redelivered job
// overwrites its earlier row.
func (s *ResultStore) RecordResult(ctx context.Context, result crawler.CrawlResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if result.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	root_url,
	requesting_user,
	output_file_name,
	location,
	outcome,
	elapsed_ms,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (job_id) DO UPDATE SET
	location = EXCLUDED.location,
	outcome = EXCLUDED.outcome,
	elapsed_ms = EXCLUDED.elapsed_ms,
	finished_at = EXCLUDED.finished_at`, s.table)

	var location *string
	if result.Location != "" {
		location = &result.Location
	}
	args := []any{
		result.JobID,
		result.RootURL,
		result.RequestingUser,
		result.OutputFileName,
		location,
		string(result.Outcome),
		result.Elapsed.Milliseconds(),
		result.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl result: %w", err)
	}
	return nil
}

const selectColumns = `job_id, root_url, requesting_user, output_file_name, location, outcome, elapsed_ms, finished_at`

// GetResult loads the row for jobID.
func (s *ResultStore) GetResult(ctx context.Context, jobID string) (crawler.CrawlResult, error) {
	if s == nil || s.pool == nil {
		return crawler.CrawlResult{}, fmt.Errorf("result store is not configured")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE job_id = $1`, selectColumns, s.table)
	res, err := scanResult(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlResult{}, store.ErrNotFound
	}
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("get crawl result: %w", err)
	}
	return res, nil
}

// ListResults returns rows matching filter, newest first.
func (s *ResultStore) ListResults(ctx context.Context, filter store.ResultFilter) ([]crawler.CrawlResult, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("result store is not configured")
	}
	var (
		where []string
		args  []any
	)
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if filter.RootURL != "" {
		args = append(args, filter.RootURL)
		where = append(where, fmt.Sprintf("root_url = $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, selectColumns, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY finished_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list crawl results: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl results: %w", err)
	}
	return out, nil
}

func scanResult(row pgx.Row) (crawler.CrawlResult, error) {
	var (
		res       crawler.CrawlResult
		location  *string
		outcome   string
		elapsedMS int64
	)
	if err := row.Scan(
		&res.JobID,
		&res.RootURL,
		&res.RequestingUser,
		&res.OutputFileName,
		&location,
		&outcome,
		&elapsedMS,
		&res.FinishedAt,
	); err != nil {
		return crawler.CrawlResult{}, err //nolint:wrapcheck // wrapped by callers
	}
	if location != nil {
		res.Location = *location
	}
	res.Outcome = crawler.Outcome(outcome)
	res.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return res, nil
}
