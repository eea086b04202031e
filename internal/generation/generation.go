// Package generation defines the contract of the external content
// generation service and the error classes the retry policy understands.
package generation

import (
	"context"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/story"
)

// EditParams turns a request into a regeneration of an existing asset.
type EditParams struct {
	Instructions string
	SourceAsset  string
	Region       story.Region
	// Minimal asks for the smallest change that fixes Issues (QA fix path).
	Minimal bool
	Issues  []string
}

type Request struct {
	JobID             string
	Target            entity.Target
	Hero              entity.Hero
	Story             entity.Story
	Beat              string
	PanelCount        int
	Style             string
	Language          string
	ReferenceImage    string
	PreviousPageImage string
	Edit              *EditParams
}

type QAVerdict struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
}

// NeedsFix reports whether the verdict carries issues worth a follow-up edit.
func (v *QAVerdict) NeedsFix() bool {
	return v != nil && !v.OK && len(v.Issues) > 0
}

type Result struct {
	AssetPath             string
	UpdatedReferenceImage string
	QA                    *QAVerdict
}

// Generator synthesizes one page asset.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// BeatWriter decomposes a story into one beat per interior page.
type BeatWriter interface {
	WriteBeats(ctx context.Context, in entity.Input) ([]string, error)
}

// NewRequest builds the generation request for target t from the job's
// locked story state. The character reference falls back to the uploaded
// photo until the cover has been drawn.
func NewRequest(job *entity.Job, t entity.Target) Request {
	req := Request{
		JobID:             job.ID.String(),
		Target:            t,
		Hero:              job.Input.Hero,
		Story:             job.Input.Story,
		PanelCount:        job.Output.PanelCounts[t],
		Style:             job.Input.Style,
		Language:          job.Input.Language,
		ReferenceImage:    job.Output.CharacterRefStoragePath,
		PreviousPageImage: job.Output.PreviousStoryPage(t),
	}
	if req.ReferenceImage == "" {
		req.ReferenceImage = job.Input.PhotoPath
	}
	if n := t.StoryNumber(); n > 0 && n <= len(job.Output.Beats) {
		req.Beat = job.Output.Beats[n-1]
	}
	return req
}
