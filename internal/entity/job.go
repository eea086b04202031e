package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued           JobStatus = "queued"
	StatusProcessing       JobStatus = "processing"
	StatusAwaitingApproval JobStatus = "awaiting_approval"
	StatusCompleted        JobStatus = "completed"
	StatusFailed           JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Hero struct {
	Name        string `json:"name"`
	Age         int    `json:"age,omitempty"`
	Description string `json:"description,omitempty"`
}

type Story struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Theme       string `json:"theme,omitempty"`
}

// Input is the immutable configuration a job was created with.
type Input struct {
	Hero         Hero   `json:"hero"`
	Story        Story  `json:"story"`
	Style        string `json:"style"`
	Language     string `json:"language"`
	PhotoPath    string `json:"photoPath,omitempty"`
	ContactEmail string `json:"contactEmail,omitempty"`
}

type FinalizePhase string

const (
	PhaseCustomer FinalizePhase = "customer"
	PhaseInterior FinalizePhase = "interior"
	PhaseCover    FinalizePhase = "cover"
)

// FinalizeState is the cursor of the chunked assembly pipeline. It only exists
// while a finalize is in flight.
type FinalizeState struct {
	Phase       FinalizePhase `json:"phase"`
	Next        int           `json:"next"`
	CustomerURL string        `json:"customerUrl,omitempty"`
	InteriorURL string        `json:"interiorUrl,omitempty"`
}

// Output is the mutable working state of a job.
type Output struct {
	GeneratedPages          map[Target]string `json:"generatedPages"`
	CharacterRefStoragePath string            `json:"characterRefStoragePath,omitempty"`
	AllPreviousPages        []string          `json:"allPreviousPages,omitempty"`
	Beats                   []string          `json:"beats,omitempty"`
	BeatsLocked             bool              `json:"beatsLocked"`
	PanelCounts             map[Target]int    `json:"panelCounts,omitempty"`

	RetryCounts          Counters `json:"retry_counts,omitempty"`
	TransientRetryCounts Counters `json:"transient_retry_counts,omitempty"`
	QAFixCounts          Counters `json:"qa_fix_counts,omitempty"`
	EditCounts           Counters `json:"edit_counts,omitempty"`

	ComicURL    string `json:"comicUrl,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty"`
	InteriorURL string `json:"interiorUrl,omitempty"`

	Finalize       *FinalizeState `json:"finalize,omitempty"`
	PendingFailure string         `json:"pendingFailure,omitempty"`
}

// Normalize allocates nil maps so callers can write without checks.
func (o *Output) Normalize() {
	if o.GeneratedPages == nil {
		o.GeneratedPages = map[Target]string{}
	}
	if o.PanelCounts == nil {
		o.PanelCounts = map[Target]int{}
	}
	if o.RetryCounts == nil {
		o.RetryCounts = Counters{}
	}
	if o.TransientRetryCounts == nil {
		o.TransientRetryCounts = Counters{}
	}
	if o.QAFixCounts == nil {
		o.QAFixCounts = Counters{}
	}
	if o.EditCounts == nil {
		o.EditCounts = Counters{}
	}
}

// NextMissing returns the first target without a generated page.
func (o *Output) NextMissing() (Target, bool) {
	for _, t := range AllTargets {
		if _, ok := o.GeneratedPages[t]; !ok {
			return t, true
		}
	}
	return 0, false
}

// PreviousStoryPage returns the asset of the story page right before t, if any.
func (o *Output) PreviousStoryPage(t Target) string {
	if t.StoryNumber() < 2 {
		return ""
	}
	return o.GeneratedPages[t-1]
}

type Job struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	CurrentPage     int             `json:"current_page"`
	Input           Input           `json:"input_data"`
	Output          Output          `json:"output_data"`
	PageApprovals   map[Target]bool `json:"page_approvals"`
	CreditsUsed     int             `json:"credits_used"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastHeartbeatAt time.Time       `json:"last_heartbeat_at"`
}

// Normalize allocates nil maps on the job and its output.
func (j *Job) Normalize() {
	j.Output.Normalize()
	if j.PageApprovals == nil {
		j.PageApprovals = map[Target]bool{}
	}
}

// SetProgress never lets progress go backwards.
func (j *Job) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// MissingApprovals lists required targets that are not approved, in target order.
func (j *Job) MissingApprovals() []Target {
	var missing []Target
	for _, t := range RequiredApprovals() {
		if !j.PageApprovals[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

// Clone returns a deep copy so fakes and callers can hold snapshots safely.
func (j *Job) Clone() *Job {
	c := *j
	c.Output = j.Output
	c.Output.GeneratedPages = cloneMap(j.Output.GeneratedPages)
	c.Output.PanelCounts = cloneMap(j.Output.PanelCounts)
	c.Output.RetryCounts = Counters(cloneMap(j.Output.RetryCounts))
	c.Output.TransientRetryCounts = Counters(cloneMap(j.Output.TransientRetryCounts))
	c.Output.QAFixCounts = Counters(cloneMap(j.Output.QAFixCounts))
	c.Output.EditCounts = Counters(cloneMap(j.Output.EditCounts))
	c.Output.AllPreviousPages = append([]string(nil), j.Output.AllPreviousPages...)
	c.Output.Beats = append([]string(nil), j.Output.Beats...)
	if j.Output.Finalize != nil {
		f := *j.Output.Finalize
		c.Output.Finalize = &f
	}
	c.PageApprovals = cloneMap(j.PageApprovals)
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
