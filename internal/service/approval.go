package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
	"comic-orchestrator/internal/ledger"
	"comic-orchestrator/internal/story"
)

func (s *JobService) Approve(ctx context.Context, id uuid.UUID, t entity.Target) (*entity.Job, error) {
	return s.setApproval(ctx, id, t, true)
}

func (s *JobService) Unapprove(ctx context.Context, id uuid.UUID, t entity.Target) (*entity.Job, error) {
	return s.setApproval(ctx, id, t, false)
}

func (s *JobService) setApproval(ctx context.Context, id uuid.UUID, t entity.Target, approved bool) (*entity.Job, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", entity.ErrUnknownTarget, int(t))
	}
	return s.mutate(ctx, id, func(job *entity.Job) error {
		if job.Status != entity.StatusAwaitingApproval {
			return fmt.Errorf("%w: status is %s", entity.ErrInvalidState, job.Status)
		}
		job.PageApprovals[t] = approved
		return nil
	})
}

type EditRequest struct {
	JobID        uuid.UUID
	Target       entity.Target
	Instructions string
	// Panel is story.WholePage or a 1-based panel of the page.
	Panel int
}

// Edit regenerates one page, either whole or a single panel band. The edit
// cost is debited before the generator is called and is not returned if the
// regeneration fails. A successful edit always clears the page's approval.
func (s *JobService) Edit(ctx context.Context, req EditRequest) (string, error) {
	if !req.Target.Valid() {
		return "", fmt.Errorf("%w: %d", entity.ErrUnknownTarget, int(req.Target))
	}

	job, err := s.repo.GetByID(ctx, req.JobID)
	if err != nil {
		return "", err
	}
	if job.Status != entity.StatusAwaitingApproval {
		return "", fmt.Errorf("%w: status is %s", entity.ErrInvalidState, job.Status)
	}
	source, ok := job.Output.GeneratedPages[req.Target]
	if !ok {
		return "", fmt.Errorf("%w: %s", entity.ErrNoPage, req.Target)
	}
	region, err := story.PanelRegion(req.Target, req.Panel, job.Output.PanelCounts[req.Target])
	if err != nil {
		return "", err
	}
	if s.opts.MaxEditsPerPage > 0 && job.Output.EditCounts.Get(req.Target) >= s.opts.MaxEditsPerPage {
		return "", fmt.Errorf("%w: %s", entity.ErrEditLimit, req.Target)
	}

	if err := s.ledger.Debit(ctx, job.UserID, s.opts.EditCost, ledger.ReasonPageEdit, job.ID); err != nil {
		return "", err
	}

	log := s.logger.With().Str("job_id", job.ID.String()).Str("target", req.Target.String()).Int("panel", req.Panel).Logger()

	genReq := generation.NewRequest(job, req.Target)
	genReq.Edit = &generation.EditParams{
		Instructions: req.Instructions,
		SourceAsset:  source,
		Region:       region,
	}
	res, err := s.generator.Generate(ctx, genReq)
	if err != nil {
		log.Warn().Err(err).Msg("edit failed after billing")
		return "", fmt.Errorf("edit %s: %w", req.Target, err)
	}

	_, err = s.mutate(ctx, req.JobID, func(job *entity.Job) error {
		if job.Status != entity.StatusAwaitingApproval {
			return fmt.Errorf("%w: status is %s", entity.ErrInvalidState, job.Status)
		}
		old := job.Output.GeneratedPages[req.Target]
		job.Output.GeneratedPages[req.Target] = res.AssetPath
		for i, p := range job.Output.AllPreviousPages {
			if p == old {
				job.Output.AllPreviousPages[i] = res.AssetPath
			}
		}
		if res.UpdatedReferenceImage != "" {
			job.Output.CharacterRefStoragePath = res.UpdatedReferenceImage
		}
		job.PageApprovals[req.Target] = false
		job.Output.EditCounts.Inc(req.Target)
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("asset", res.AssetPath).Msg("page edited")
	return res.AssetPath, nil
}

// Finalize checks the approval gate and hands the job to the worker for
// chunked assembly. A rejected call leaves the job untouched.
func (s *JobService) Finalize(ctx context.Context, id uuid.UUID) error {
	_, err := s.mutate(ctx, id, func(job *entity.Job) error {
		if job.Status != entity.StatusAwaitingApproval {
			return fmt.Errorf("%w: status is %s", entity.ErrInvalidState, job.Status)
		}
		if missing := job.MissingApprovals(); len(missing) > 0 {
			return &entity.MissingApprovalsError{Targets: missing}
		}
		job.Status = entity.StatusProcessing
		job.SetProgress(85)
		job.Output.Finalize = &entity.FinalizeState{Phase: entity.PhaseCustomer}
		// restart the stall clock, the gate may have been open for days
		job.LastHeartbeatAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.scheduler.Schedule(ctx, id.String(), 0); err != nil {
		s.logger.Warn().Err(err).Str("job_id", id.String()).Msg("schedule finalize")
	}
	s.logger.Info().Str("job_id", id.String()).Msg("finalize started")
	return nil
}
