// Package ledger is the Postgres-backed prepaid credit ledger. Balances can
// never go negative and credits are idempotent per (job, reason).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"comic-orchestrator/internal/entity"
)

const (
	ReasonGeneration = "generation"
	ReasonPageEdit   = "page_edit"
	ReasonRefund     = "refund"
)

type Ledger struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Debit removes amount from the user's balance, or returns
// entity.ErrInsufficientCredits without touching anything.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int, reason string, jobID uuid.UUID) error {
	if amount <= 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE credit_balances
SET balance = balance - $2, updated_at = NOW()
WHERE user_id = $1 AND balance >= $2;
`, userID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return entity.ErrInsufficientCredits
		}
		_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, job_id, kind, amount, reason)
VALUES ($1, $2, $3, 'debit', $4, $5);
`, uuid.New(), userID, jobID, amount, reason)
		return err
	})
}

// Credit adds amount back to the user's balance. A second credit with the same
// job and reason is a no-op, which keeps refunds at most once per job.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int, reason string, jobID uuid.UUID) error {
	if amount <= 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, job_id, kind, amount, reason)
VALUES ($1, $2, $3, 'credit', $4, $5)
ON CONFLICT (job_id, reason) WHERE kind = 'credit' DO NOTHING;
`, uuid.New(), userID, jobID, amount, reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
INSERT INTO credit_balances (user_id, balance)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = NOW();
`, userID, amount)
		return err
	})
}

// Balance returns the current balance, zero for unknown users.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx, `SELECT balance FROM credit_balances WHERE user_id = $1;`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

const schema = `
CREATE TABLE IF NOT EXISTS credit_balances (
    user_id    text PRIMARY KEY,
    balance    integer     NOT NULL CHECK (balance >= 0),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS credit_transactions (
    id         uuid PRIMARY KEY,
    user_id    text        NOT NULL,
    job_id     uuid        NOT NULL,
    kind       text        NOT NULL CHECK (kind IN ('debit', 'credit')),
    amount     integer     NOT NULL CHECK (amount > 0),
    reason     text        NOT NULL,
    created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_credit_once
    ON credit_transactions (job_id, reason) WHERE kind = 'credit';
CREATE INDEX IF NOT EXISTS credit_transactions_job_idx ON credit_transactions (job_id);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}
