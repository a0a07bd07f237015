// Package invlog records outbound invocations into Postgres for audit and
// debugging. Recording is optional and asynchronous: the gateway enqueues
// records into a bounded buffer and a background batcher flushes them, so
// the invocation path never blocks on the database.
package invlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one outbound invocation.
type Record struct {
	ID               string
	Target           string
	Mode             string
	OrganizationCode string
	StatusCode       int
	DurationMS       int64
	Error            string
	CreatedAt        time.Time
}

// Store persists invocation records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and ensures the audit schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &Store{pool: pool}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS invocation_log (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		mode TEXT NOT NULL,
		organization_code TEXT,
		status_code INTEGER,
		duration_ms BIGINT,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("ensure invocation_log schema: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_invocation_log_target
		ON invocation_log (target, created_at)`)
	if err != nil {
		return fmt.Errorf("ensure invocation_log index: %w", err)
	}
	return nil
}

// SaveBatch inserts a batch of records.
func (s *Store) SaveBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		_, err := tx.Exec(ctx, `INSERT INTO invocation_log
			(id, target, mode, organization_code, status_code, duration_ms, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.Target, r.Mode, r.OrganizationCode, r.StatusCode, r.DurationMS, r.Error, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert invocation log %s: %w", r.ID, err)
		}
	}

	return tx.Commit(ctx)
}
