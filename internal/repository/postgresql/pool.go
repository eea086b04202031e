package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                uuid PRIMARY KEY,
    user_id           text        NOT NULL,
    status            text        NOT NULL,
    progress          integer     NOT NULL DEFAULT 0,
    current_page      integer     NOT NULL DEFAULT 0,
    input_data        jsonb       NOT NULL,
    output_data       jsonb       NOT NULL DEFAULT '{}'::jsonb,
    page_approvals    jsonb       NOT NULL DEFAULT '{}'::jsonb,
    credits_used      integer     NOT NULL DEFAULT 0,
    error_message     text,
    version           bigint      NOT NULL DEFAULT 0,
    created_at        timestamptz NOT NULL DEFAULT NOW(),
    updated_at        timestamptz NOT NULL DEFAULT NOW(),
    last_heartbeat_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_user_idx ON jobs (user_id);
`

// Migrate creates the jobs table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, jobsSchema); err != nil {
		return fmt.Errorf("migrate jobs: %w", err)
	}
	return nil
}
