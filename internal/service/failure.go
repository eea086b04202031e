package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/ledger"
	"comic-orchestrator/internal/repository/postgresql"
)

// FailureHandler is the only way a job becomes failed. The failure is parked
// on the job before the refund is issued, so a refunded job can never resume
// normal work: every later step only re-runs the handler.
type FailureHandler struct {
	repo   JobRepository
	ledger Ledger
	logger zerolog.Logger
	now    func() time.Time
}

func NewFailureHandler(repo JobRepository, ledger Ledger, logger zerolog.Logger) *FailureHandler {
	return &FailureHandler{repo: repo, ledger: ledger, logger: logger, now: time.Now}
}

// Fail parks cause in Output.PendingFailure, refunds, then marks job failed.
// job is updated in place. Any error leaves the job parked (or untouched when
// the park itself failed) and is returned so the caller can retry; a nil cause
// reuses the parked reason.
func (h *FailureHandler) Fail(ctx context.Context, job *entity.Job, cause error) error {
	if job.Status.IsTerminal() {
		return nil
	}
	reason := job.Output.PendingFailure
	if cause != nil && reason == "" {
		reason = cause.Error()
	}
	if reason == "" {
		reason = "unknown failure"
	}
	log := h.logger.With().Str("job_id", job.ID.String()).Logger()

	if job.Output.PendingFailure == "" {
		done, err := h.park(ctx, job, reason)
		if err != nil || done {
			return err
		}
		reason = job.Output.PendingFailure
	}

	// Credit is idempotent per job, so a retried handler never refunds twice.
	if job.CreditsUsed > 0 {
		if err := h.ledger.Credit(ctx, job.UserID, job.CreditsUsed, ledger.ReasonRefund, job.ID); err != nil {
			return fmt.Errorf("refund job %s: %w", job.ID, err)
		}
	}

	for attempt := 0; ; attempt++ {
		markFailed(job, reason, h.now().UTC())
		err := h.repo.Update(ctx, job)
		if err == nil {
			break
		}
		if !errors.Is(err, postgresql.ErrVersionConflict) || attempt >= maxConflictRetries {
			return fmt.Errorf("mark job %s failed: %w", job.ID, err)
		}
		fresh, gerr := h.repo.GetByID(ctx, job.ID)
		if gerr != nil {
			return fmt.Errorf("mark job %s failed: %w", job.ID, gerr)
		}
		*job = *fresh
		if job.Status.IsTerminal() {
			return nil
		}
	}

	log.Warn().Str("reason", reason).Int("refunded", job.CreditsUsed).Msg("job failed")
	return nil
}

// park persists reason as the job's pending failure. done is true when a
// concurrent writer already finished the job.
func (h *FailureHandler) park(ctx context.Context, job *entity.Job, reason string) (done bool, err error) {
	for attempt := 0; ; attempt++ {
		job.Output.PendingFailure = reason
		job.LastHeartbeatAt = h.now().UTC()
		err := h.repo.Update(ctx, job)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, postgresql.ErrVersionConflict) || attempt >= maxConflictRetries {
			return false, fmt.Errorf("park failure of job %s: %w", job.ID, err)
		}
		fresh, gerr := h.repo.GetByID(ctx, job.ID)
		if gerr != nil {
			return false, fmt.Errorf("park failure of job %s: %w", job.ID, gerr)
		}
		*job = *fresh
		if job.Status.IsTerminal() {
			return true, nil
		}
		if job.Output.PendingFailure != "" {
			return false, nil
		}
	}
}

func markFailed(job *entity.Job, reason string, now time.Time) {
	job.Status = entity.StatusFailed
	job.ErrorMessage = &reason
	job.Output.PendingFailure = ""
	job.Output.Finalize = nil
	job.LastHeartbeatAt = now
}
