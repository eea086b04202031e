package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"comic-orchestrator/internal/assembly"
	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
	"comic-orchestrator/internal/notify"
	"comic-orchestrator/internal/repository/postgresql"
	"comic-orchestrator/internal/story"
)

type JobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Update(ctx context.Context, job *entity.Job) error
}

// Failer is implemented by service.FailureHandler.
type Failer interface {
	Fail(ctx context.Context, job *entity.Job, cause error) error
}

// Assembler is implemented by assembly.Client.
type Assembler interface {
	AppendPage(ctx context.Context, chunk assembly.PageChunk) (string, error)
	BuildCoverDocument(ctx context.Context, req assembly.CoverRequest) (string, error)
}

type Config struct {
	// StepDelay separates two successful steps of the same job.
	StepDelay time.Duration
	// StepTimeout bounds a single invocation.
	StepTimeout      time.Duration
	Retry            RetryPolicy
	QAFixMaxAttempts int
}

// Result tells the pool whether and when to run the job's next step.
type Result struct {
	Reschedule bool
	Delay      time.Duration
}

type Processor struct {
	repo      JobRepo
	beats     generation.BeatWriter
	generator generation.Generator
	assembler Assembler
	notifier  notify.Notifier
	failures  Failer
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProcessor(
	repo JobRepo,
	beats generation.BeatWriter,
	generator generation.Generator,
	assembler Assembler,
	notifier notify.Notifier,
	failures Failer,
	cfg Config,
	logger zerolog.Logger,
) *Processor {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 90 * time.Second
	}
	return &Processor{
		repo:      repo,
		beats:     beats,
		generator: generator,
		assembler: assembler,
		notifier:  notifier,
		failures:  failures,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Process advances the job by exactly one unit of work: the beat lock, one
// page, one finalize chunk, or a parked failure. Everything is re-derived from
// the stored snapshot, so repeated or duplicate invocations are safe.
func (p *Processor) Process(ctx context.Context, jobID string) (Result, error) {
	start := p.now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.logger.Error().Str("job_id", jobID).Err(err).Msg("bad job id")
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	job, err := p.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return Result{}, err
		}
		return p.later(), fmt.Errorf("load job %s: %w", id, err)
	}

	log := p.logger.With().Str("job_id", jobID).Logger()

	if job.Status.IsTerminal() || job.Status == entity.StatusAwaitingApproval {
		log.Debug().Str("status", string(job.Status)).Msg("nothing to do")
		return Result{}, nil
	}
	if job.Output.PendingFailure != "" {
		return p.fail(ctx, job, nil)
	}

	job.Status = entity.StatusProcessing
	job.LastHeartbeatAt = p.now().UTC()

	var res Result
	switch {
	case job.Output.Finalize != nil:
		res, err = p.finalizeStep(ctx, job)
	case !job.Output.BeatsLocked:
		res, err = p.lockBeats(ctx, job)
	default:
		res, err = p.generateStep(ctx, job)
	}

	log.Info().
		Str("status", string(job.Status)).
		Int("progress", job.Progress).
		Bool("reschedule", res.Reschedule).
		Int64("delay_ms", res.Delay.Milliseconds()).
		Int64("duration_ms", p.now().Sub(start).Milliseconds()).
		Msg("step done")
	return res, err
}

func (p *Processor) lockBeats(ctx context.Context, job *entity.Job) (Result, error) {
	beats, err := p.beats.WriteBeats(ctx, job.Input)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("lock beats: %w", err))
	}
	counts, err := story.PanelCounts(beats)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("lock beats: %w", err))
	}

	job.Output.Beats = beats
	job.Output.PanelCounts = counts
	job.Output.BeatsLocked = true
	job.SetProgress(5)
	return p.persist(ctx, job, p.next())
}

func (p *Processor) generateStep(ctx context.Context, job *entity.Job) (Result, error) {
	t, ok := job.Output.NextMissing()
	if !ok {
		p.awaitApproval(job)
		return p.persist(ctx, job, Result{})
	}

	log := p.logger.With().Str("job_id", job.ID.String()).Str("target", t.String()).Logger()
	job.CurrentPage = t.Index()
	job.SetProgress(10 + 70*t.Index()/entity.TargetCount)

	req := generation.NewRequest(job, t)
	res, err := p.generator.Generate(ctx, req)
	if err != nil {
		d := p.cfg.Retry.Classify(&job.Output, t, err)
		if !d.Retry {
			if d.Class == generation.ClassFatal {
				return p.fail(ctx, job, fmt.Errorf("generate %s: %w", t, err))
			}
			return p.fail(ctx, job, fmt.Errorf("generate %s: %s retries exhausted after %d attempts: %w", t, d.Class, d.Attempt, err))
		}
		log.Warn().Err(err).
			Str("class", d.Class.String()).
			Int("attempt", d.Attempt).
			Int64("delay_ms", d.Delay.Milliseconds()).
			Msg("generation failed, retrying")
		return p.persist(ctx, job, Result{Reschedule: true, Delay: d.Delay})
	}

	res = p.qaFix(ctx, job, t, req, res)

	job.Output.GeneratedPages[t] = res.AssetPath
	if res.UpdatedReferenceImage != "" {
		job.Output.CharacterRefStoragePath = res.UpdatedReferenceImage
	}
	if t.IsStoryPage() {
		job.Output.AllPreviousPages = append(job.Output.AllPreviousPages, res.AssetPath)
	}
	p.cfg.Retry.Succeeded(&job.Output, t)
	log.Info().Str("asset", res.AssetPath).Msg("page generated")

	if _, more := job.Output.NextMissing(); !more {
		p.awaitApproval(job)
		return p.persist(ctx, job, Result{})
	}
	return p.persist(ctx, job, p.next())
}

// qaFix runs the optional minimal-edit pass on a page the reviewer flagged.
// A failed fix keeps the original asset.
func (p *Processor) qaFix(ctx context.Context, job *entity.Job, t entity.Target, req generation.Request, res *generation.Result) *generation.Result {
	for p.cfg.QAFixMaxAttempts > 0 && res.QA.NeedsFix() && job.Output.QAFixCounts.Get(t) < p.cfg.QAFixMaxAttempts {
		job.Output.QAFixCounts.Inc(t)

		fixReq := req
		fixReq.Edit = &generation.EditParams{
			SourceAsset: res.AssetPath,
			Region:      story.Region{Panel: story.WholePage, Of: 1, Top: 0, Bottom: 1},
			Minimal:     true,
			Issues:      res.QA.Issues,
		}
		fixed, err := p.generator.Generate(ctx, fixReq)
		if err != nil {
			p.logger.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Str("target", t.String()).
				Msg("qa fix failed, keeping original")
			return res
		}
		if res.UpdatedReferenceImage != "" {
			fixed.UpdatedReferenceImage = fixed.AssetPath
		}
		res = fixed
	}
	return res
}

func (p *Processor) awaitApproval(job *entity.Job) {
	job.Status = entity.StatusAwaitingApproval
	job.SetProgress(80)
}

// persist writes the step's snapshot. A version conflict means another
// invocation advanced the job first; its chain continues and this one ends.
func (p *Processor) persist(ctx context.Context, job *entity.Job, res Result) (Result, error) {
	saved, err := p.save(ctx, job)
	if err != nil {
		return p.later(), err
	}
	if !saved {
		return Result{}, nil
	}
	return res, nil
}

func (p *Processor) save(ctx context.Context, job *entity.Job) (bool, error) {
	err := p.repo.Update(ctx, job)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, postgresql.ErrVersionConflict) {
		p.logger.Warn().Str("job_id", job.ID.String()).Msg("concurrent step won, dropping result")
		return false, nil
	}
	return false, fmt.Errorf("save job %s: %w", job.ID, err)
}

func (p *Processor) fail(ctx context.Context, job *entity.Job, cause error) (Result, error) {
	if err := p.failures.Fail(ctx, job, cause); err != nil {
		return p.later(), err
	}
	return Result{}, nil
}

func (p *Processor) next() Result {
	return Result{Reschedule: true, Delay: p.cfg.StepDelay}
}

// later is the follow-up after an infrastructure error (store, ledger).
func (p *Processor) later() Result {
	return Result{Reschedule: true, Delay: Backoff(p.cfg.Retry.BaseDelay, 0, p.cfg.Retry.jitter())}
}
