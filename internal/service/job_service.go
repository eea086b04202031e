package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
	"comic-orchestrator/internal/ledger"
	"comic-orchestrator/internal/repository/postgresql"
)

// JobRepository is implemented by postgresql.JobRepository.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Update(ctx context.Context, job *entity.Job) error
}

// Ledger is implemented by ledger.Ledger.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int, reason string, jobID uuid.UUID) error
	Credit(ctx context.Context, userID string, amount int, reason string, jobID uuid.UUID) error
}

// Scheduler is the part of Queue used to start or resume a job's step chain.
type Scheduler interface {
	Schedule(ctx context.Context, jobID string, delay time.Duration) error
}

type Options struct {
	GenerationCost int
	EditCost       int
	// MaxEditsPerPage caps edits per target; zero means unlimited.
	MaxEditsPerPage int
}

type JobService struct {
	repo      JobRepository
	ledger    Ledger
	scheduler Scheduler
	generator generation.Generator
	opts      Options
	logger    zerolog.Logger
}

func NewJobService(
	repo JobRepository,
	ledger Ledger,
	scheduler Scheduler,
	generator generation.Generator,
	opts Options,
	logger zerolog.Logger,
) *JobService {
	return &JobService{
		repo:      repo,
		ledger:    ledger,
		scheduler: scheduler,
		generator: generator,
		opts:      opts,
		logger:    logger,
	}
}

type CreateJobRequest struct {
	UserID string
	Input  entity.Input
}

// CreateJob debits the generation cost, stores a queued job and schedules its
// first step.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (uuid.UUID, error) {
	if err := validateCreate(req); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	if err := s.ledger.Debit(ctx, req.UserID, s.opts.GenerationCost, ledger.ReasonGeneration, id); err != nil {
		return uuid.Nil, err
	}

	job := &entity.Job{
		ID:          id,
		UserID:      req.UserID,
		Status:      entity.StatusQueued,
		Input:       req.Input,
		CreditsUsed: s.opts.GenerationCost,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		if cerr := s.ledger.Credit(ctx, req.UserID, s.opts.GenerationCost, ledger.ReasonRefund, id); cerr != nil {
			s.logger.Error().Err(cerr).Str("job_id", id.String()).Msg("refund after failed insert")
		}
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.scheduler.Schedule(ctx, id.String(), 0); err != nil {
		// the stalled-job sweeper picks queued jobs up again
		s.logger.Warn().Err(err).Str("job_id", id.String()).Msg("schedule first step")
	}

	s.logger.Info().Str("job_id", id.String()).Str("user_id", req.UserID).Int("credits", job.CreditsUsed).Msg("job created")
	return id, nil
}

func validateCreate(req CreateJobRequest) error {
	var missing []string
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(req.Input.Hero.Name) == "" {
		missing = append(missing, "input.hero.name")
	}
	if strings.TrimSpace(req.Input.Story.Description) == "" {
		missing = append(missing, "input.story.description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", entity.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

const maxConflictRetries = 3

// mutate applies fn to a fresh snapshot and writes it back, retrying when a
// concurrent writer got there first. An error from fn aborts without writing.
func (s *JobService) mutate(ctx context.Context, id uuid.UUID, fn func(job *entity.Job) error) (*entity.Job, error) {
	for attempt := 0; ; attempt++ {
		job, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(job); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, job)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, postgresql.ErrVersionConflict) || attempt >= maxConflictRetries {
			return nil, err
		}
	}
}
