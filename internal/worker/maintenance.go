package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"comic-orchestrator/internal/service"
)

// RunPromoter moves due steps onto the ready list every interval.
func RunPromoter(ctx context.Context, queue service.Queue, interval time.Duration, logger zerolog.Logger) error {
	return every(ctx, interval, func() {
		if _, err := queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("promote due steps")
		}
	})
}

// RunReaper periodically returns steps whose worker died back to the queue.
func RunReaper(ctx context.Context, queue service.Queue, staleAfter time.Duration, logger zerolog.Logger) error {
	return every(ctx, staleAfter/2, func() {
		n, err := queue.RequeueStale(ctx, staleAfter, 100)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("requeue stale steps")
			}
			return
		}
		if n > 0 {
			logger.Info().Int64("count", n).Msg("requeued stale steps")
		}
	})
}

// StalledLister is implemented by postgresql.JobRepository.
type StalledLister interface {
	ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// RunSweeper reschedules jobs that should be advancing but whose step chain
// was lost, e.g. when scheduling failed right after the job was created.
func RunSweeper(ctx context.Context, repo StalledLister, scheduler service.Scheduler, staleAfter time.Duration, logger zerolog.Logger) error {
	return every(ctx, staleAfter, func() {
		ids, err := repo.ListStalled(ctx, time.Now().Add(-staleAfter), 100)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("list stalled jobs")
			}
			return
		}
		for _, id := range ids {
			if err := scheduler.Schedule(ctx, id.String(), 0); err != nil {
				logger.Warn().Err(err).Str("job_id", id.String()).Msg("reschedule stalled job")
				return
			}
		}
		if len(ids) > 0 {
			logger.Info().Int("count", len(ids)).Msg("rescheduled stalled jobs")
		}
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
