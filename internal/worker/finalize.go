package worker

import (
	"context"
	"fmt"

	"comic-orchestrator/internal/assembly"
	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/notify"
)

// finalizeStep performs one chunk of the assembly pipeline:
//
//	customer  12 appends, all targets, position = target index   -> 90%
//	interior  10 appends, story pages only, position 0..9        -> 95%
//	cover     one call with front and back cover                 -> completed
//
// Any failure is fatal for the job.
func (p *Processor) finalizeStep(ctx context.Context, job *entity.Job) (Result, error) {
	st := job.Output.Finalize
	meta := assembly.Metadata{
		Title:    job.Input.Story.Title,
		HeroName: job.Input.Hero.Name,
		Language: job.Input.Language,
	}

	switch st.Phase {
	case entity.PhaseCustomer:
		if st.Next < 0 || st.Next >= len(entity.AllTargets) {
			return p.fail(ctx, job, fmt.Errorf("finalize %s: cursor %d out of range", st.Phase, st.Next))
		}
		t := entity.AllTargets[st.Next]
		url, err := p.appendPage(ctx, job, assembly.DocumentCustomer, t, t.Index(), meta)
		if err != nil {
			return p.fail(ctx, job, &entity.FinalizationError{Phase: st.Phase, Target: t, Err: err})
		}
		st.CustomerURL = url
		st.Next++
		if st.Next == len(entity.AllTargets) {
			st.Phase, st.Next = entity.PhaseInterior, 0
			job.SetProgress(90)
		}

	case entity.PhaseInterior:
		pages := entity.StoryTargets()
		if st.Next < 0 || st.Next >= len(pages) {
			return p.fail(ctx, job, fmt.Errorf("finalize %s: cursor %d out of range", st.Phase, st.Next))
		}
		t := pages[st.Next]
		url, err := p.appendPage(ctx, job, assembly.DocumentInterior, t, st.Next, meta)
		if err != nil {
			return p.fail(ctx, job, &entity.FinalizationError{Phase: st.Phase, Target: t, Err: err})
		}
		st.InteriorURL = url
		st.Next++
		if st.Next == len(pages) {
			st.Phase, st.Next = entity.PhaseCover, 0
			job.SetProgress(95)
		}

	case entity.PhaseCover:
		return p.buildCover(ctx, job, meta)

	default:
		return p.fail(ctx, job, fmt.Errorf("finalize: unknown phase %q", st.Phase))
	}

	p.logger.Debug().
		Str("job_id", job.ID.String()).
		Str("phase", string(st.Phase)).
		Int("next", st.Next).
		Msg("finalize chunk appended")
	return p.persist(ctx, job, p.next())
}

func (p *Processor) appendPage(ctx context.Context, job *entity.Job, doc assembly.Document, t entity.Target, position int, meta assembly.Metadata) (string, error) {
	asset, ok := job.Output.GeneratedPages[t]
	if !ok || asset == "" {
		return "", entity.ErrNoPage
	}
	return p.assembler.AppendPage(ctx, assembly.PageChunk{
		JobID:         job.ID.String(),
		Document:      doc,
		TargetKey:     t.String(),
		PositionIndex: position,
		AssetPath:     asset,
		Metadata:      meta,
	})
}

func (p *Processor) buildCover(ctx context.Context, job *entity.Job, meta assembly.Metadata) (Result, error) {
	front := job.Output.GeneratedPages[entity.TargetCover]
	back := job.Output.GeneratedPages[entity.TargetBackCover]
	if front == "" || back == "" {
		missing := entity.TargetCover
		if front != "" {
			missing = entity.TargetBackCover
		}
		return p.fail(ctx, job, &entity.FinalizationError{Phase: entity.PhaseCover, Target: missing, Err: entity.ErrNoPage})
	}

	url, err := p.assembler.BuildCoverDocument(ctx, assembly.CoverRequest{
		JobID:          job.ID.String(),
		FrontAssetPath: front,
		BackAssetPath:  back,
		Metadata:       meta,
	})
	if err != nil {
		return p.fail(ctx, job, &entity.FinalizationError{Phase: entity.PhaseCover, Target: entity.TargetCover, Err: err})
	}

	st := job.Output.Finalize
	job.Output.ComicURL = st.CustomerURL
	job.Output.InteriorURL = st.InteriorURL
	job.Output.CoverURL = url
	job.Output.Finalize = nil
	job.Status = entity.StatusCompleted
	job.SetProgress(100)

	saved, err := p.save(ctx, job)
	if err != nil {
		return p.later(), err
	}
	if saved {
		p.notifyCompleted(ctx, job)
	}
	return Result{}, nil
}

// notifyCompleted is best effort; the job is already completed.
func (p *Processor) notifyCompleted(ctx context.Context, job *entity.Job) {
	if p.notifier == nil || job.Input.ContactEmail == "" {
		return
	}
	err := p.notifier.NotifyCompleted(ctx, notify.Completion{
		JobID:       job.ID.String(),
		To:          job.Input.ContactEmail,
		HeroName:    job.Input.Hero.Name,
		Title:       job.Input.Story.Title,
		ComicURL:    job.Output.ComicURL,
		CoverURL:    job.Output.CoverURL,
		InteriorURL: job.Output.InteriorURL,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("completion notice failed")
	}
}
