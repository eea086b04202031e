package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"comic-orchestrator/internal/entity"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("job was modified concurrently")
)

type JobRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool, now: time.Now}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	job.Normalize()

	input, output, approvals, err := marshalState(job)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO jobs (id, user_id, status, progress, current_page, input_data, output_data,
                  page_approvals, credits_used, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
RETURNING created_at, updated_at, last_heartbeat_at;
`
	if err := r.pool.QueryRow(ctx, q,
		job.ID,
		job.UserID,
		string(job.Status),
		job.Progress,
		job.CurrentPage,
		input,
		output,
		approvals,
		job.CreditsUsed,
	).Scan(&job.CreatedAt, &job.UpdatedAt, &job.LastHeartbeatAt); err != nil {
		return err
	}
	job.Version = 0
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, user_id, status, progress, current_page, input_data, output_data, page_approvals,
       credits_used, error_message, version, created_at, updated_at, last_heartbeat_at
FROM jobs
WHERE id = $1;
`

	var (
		job            entity.Job
		statusText     string
		inputBytes     []byte
		outputBytes    []byte
		approvalsBytes []byte
	)

	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&job.UserID,
		&statusText,
		&job.Progress,
		&job.CurrentPage,
		&inputBytes,
		&outputBytes,
		&approvalsBytes,
		&job.CreditsUsed,
		&job.ErrorMessage, // NULL => nil
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.LastHeartbeatAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	if err := json.Unmarshal(inputBytes, &job.Input); err != nil {
		return nil, fmt.Errorf("decode input_data: %w", err)
	}
	if len(outputBytes) > 0 {
		if err := json.Unmarshal(outputBytes, &job.Output); err != nil {
			return nil, fmt.Errorf("decode output_data: %w", err)
		}
	}
	if len(approvalsBytes) > 0 {
		if err := json.Unmarshal(approvalsBytes, &job.PageApprovals); err != nil {
			return nil, fmt.Errorf("decode page_approvals: %w", err)
		}
	}
	job.Normalize()

	return &job, nil
}

// Update writes the mutable columns if the stored version still matches
// job.Version, then bumps the version. A stale snapshot yields ErrVersionConflict.
func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	_, output, approvals, err := marshalState(job)
	if err != nil {
		return err
	}

	const q = `
UPDATE jobs
SET status = $3,
    progress = $4,
    current_page = $5,
    output_data = $6,
    page_approvals = $7,
    error_message = $8,
    last_heartbeat_at = $9,
    updated_at = NOW(),
    version = version + 1
WHERE id = $1 AND version = $2;
`
	heartbeat := job.LastHeartbeatAt
	if heartbeat.IsZero() {
		heartbeat = r.now().UTC()
	}

	tag, err := r.pool.Exec(ctx, q,
		job.ID,
		job.Version,
		string(job.Status),
		job.Progress,
		job.CurrentPage,
		output,
		approvals,
		job.ErrorMessage,
		heartbeat,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, job.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	job.Version++
	return nil
}

// ListStalled returns jobs that should be advancing but whose heartbeat is
// older than before, oldest first. Jobs waiting at the approval gate are idle
// by definition and never listed.
func (r *JobRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	const q = `
SELECT id
FROM jobs
WHERE status IN ('queued', 'processing') AND last_heartbeat_at < $1
ORDER BY last_heartbeat_at
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, before, limit)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("list stalled jobs: %w", err)
	}
	return ids, nil
}

func marshalState(job *entity.Job) (input, output, approvals []byte, err error) {
	if input, err = json.Marshal(job.Input); err != nil {
		return nil, nil, nil, fmt.Errorf("encode input_data: %w", err)
	}
	if output, err = json.Marshal(job.Output); err != nil {
		return nil, nil, nil, fmt.Errorf("encode output_data: %w", err)
	}
	if approvals, err = json.Marshal(job.PageApprovals); err != nil {
		return nil, nil, nil, fmt.Errorf("encode page_approvals: %w", err)
	}
	return input, output, approvals, nil
}
