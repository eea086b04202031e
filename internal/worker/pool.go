package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"comic-orchestrator/internal/service"
)

// StepProcessor is implemented by Processor.
type StepProcessor interface {
	Process(ctx context.Context, jobID string) (Result, error)
}

type Pool struct {
	queue      service.Queue
	processor  StepProcessor
	workers    int
	claimDelay time.Duration
	logger     zerolog.Logger
}

func NewPool(queue service.Queue, processor StepProcessor, workers int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		logger:     logger,
	}
}

// Run claims steps until ctx is cancelled, then lets in-flight steps finish.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("workers", p.workers).Msg("worker pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				p.handle(context.WithoutCancel(ctx), n, jobID)
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.logger.Info().Msg("worker pool stopped")
	}()

	// Listener: atomically claim from ready -> processing
	for {
		if ctx.Err() != nil {
			return nil
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("claim step")
				sleepCtx(ctx, time.Second)
			}
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// left in processing; the reaper hands it back
			return nil
		}
	}
}

// handle runs one step, schedules the follow-up and only then acks, so a
// crash in between leaves the step claimed for the reaper instead of losing it.
func (p *Pool) handle(ctx context.Context, n int, jobID string) {
	log := p.logger.With().Int("worker", n).Str("job_id", jobID).Logger()

	res, err := p.processor.Process(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Msg("process step")
	}
	if res.Reschedule {
		if err := p.queue.Schedule(ctx, jobID, res.Delay); err != nil {
			log.Error().Err(err).Msg("schedule next step")
			return
		}
	}
	if err := p.queue.Ack(ctx, jobID); err != nil {
		log.Error().Err(err).Msg("ack step")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
