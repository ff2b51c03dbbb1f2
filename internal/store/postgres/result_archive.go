// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderbot/crawlserve/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultArchiveConfig controls the Postgres connection pool used for
// archived crawl results.
type ResultArchiveConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultArchive appends completed crawl results into Postgres. Rows are
// insert-only; a result is never updated once written.
type ResultArchive struct {
	pool  execCloser
	table string
}

// NewResultArchive creates a Postgres-backed ResultArchive using the provided
// config.
func NewResultArchive(ctx context.Context, cfg ResultArchiveConfig) (*ResultArchive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &ResultArchive{
		pool:  pool,
		table: table,
	}, nil
}

// NewResultArchiveWithPool constructs an archive from an existing pool
// (primarily for testing).
func NewResultArchiveWithPool(pool execCloser, table string) (*ResultArchive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultArchive{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (a *ResultArchive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// StoreResult inserts one completed result row.
func (a *ResultArchive) StoreResult(ctx context.Context, taskID string, result crawler.CrawlResult) error {
	if a == nil || a.pool == nil {
		return fmt.Errorf("result archive is not configured")
	}
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}

	extractedJSON, err := json.Marshal(result.Extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}
	linksJSON, err := json.Marshal(result.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	imagesJSON, err := json.Marshal(result.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	task_id,
	url,
	raw_markdown,
	fit_markdown,
	extracted_json,
	word_count,
	links,
	images,
	crawl_time_ms,
	page_size_bytes
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, a.table)

	args := []any{
		taskID,
		result.URL,
		result.RawMarkdown,
		result.FitMarkdown,
		extractedJSON,
		result.WordCount,
		linksJSON,
		imagesJSON,
		result.Stats.CrawlTimeMs,
		result.Stats.PageSizeBytes,
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl result: %w", err)
	}
	return nil
}
