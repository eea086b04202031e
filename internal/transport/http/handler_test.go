package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "comic-orchestrator/docs"
	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
	"comic-orchestrator/internal/repository/postgresql"
	"comic-orchestrator/internal/service"
	httptransport "comic-orchestrator/internal/transport/http"
)

// ---- fakes ----

type memRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func (r *memRepo) Create(ctx context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	job.Normalize()
	job.CreatedAt, job.UpdatedAt = now, now
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *memRepo) Update(ctx context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[job.ID]
	if !ok {
		return postgresql.ErrNotFound
	}
	if cur.Version != job.Version {
		return postgresql.ErrVersionConflict
	}
	job.Version++
	r.jobs[job.ID] = job.Clone()
	return nil
}

type walletStub struct {
	balances map[string]int
}

func (w *walletStub) Debit(ctx context.Context, userID string, amount int, reason string, jobID uuid.UUID) error {
	if w.balances[userID] < amount {
		return entity.ErrInsufficientCredits
	}
	w.balances[userID] -= amount
	return nil
}

func (w *walletStub) Credit(ctx context.Context, userID string, amount int, reason string, jobID uuid.UUID) error {
	w.balances[userID] += amount
	return nil
}

func (w *walletStub) Balance(ctx context.Context, userID string) (int, error) {
	return w.balances[userID], nil
}

type queueStub struct {
	scheduled []string
}

func (q *queueStub) Schedule(ctx context.Context, jobID string, delay time.Duration) error {
	q.scheduled = append(q.scheduled, jobID)
	return nil
}

type generatorStub struct{}

func (generatorStub) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	return &generation.Result{AssetPath: "jobs/" + req.JobID + "/pages/" + req.Target.String() + "-edit.png"}, nil
}

type server struct {
	repo   *memRepo
	wallet *walletStub
	queue  *queueStub
	h      http.Handler
}

func newServer(balances map[string]int) *server {
	s := &server{
		repo:   &memRepo{jobs: map[uuid.UUID]*entity.Job{}},
		wallet: &walletStub{balances: balances},
		queue:  &queueStub{},
	}
	svc := service.NewJobService(s.repo, s.wallet, s.queue, generatorStub{},
		service.Options{GenerationCost: 10, EditCost: 1}, zerolog.Nop())
	s.h = httptransport.Routes(httptransport.NewHandler(svc, s.wallet), zerolog.Nop())
	return s
}

func (s *server) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	return rr
}

// seedAwaiting stores a job with all pages drawn and waiting for approval.
func (s *server) seedAwaiting() *entity.Job {
	job := &entity.Job{
		ID:       uuid.New(),
		UserID:   "u1",
		Status:   entity.StatusAwaitingApproval,
		Progress: 80,
		Input: entity.Input{
			Hero:  entity.Hero{Name: "Leo"},
			Story: entity.Story{Title: "Leo and the Lighthouse", Description: "A stormy night."},
		},
	}
	job.Normalize()
	for _, t := range entity.AllTargets {
		job.Output.GeneratedPages[t] = "jobs/" + job.ID.String() + "/pages/" + t.String() + ".png"
		job.Output.PanelCounts[t] = 4
	}
	job.Output.PanelCounts[entity.TargetCover] = 1
	job.Output.PanelCounts[entity.TargetBackCover] = 1
	s.repo.jobs[job.ID] = job.Clone()
	return job
}

// ---- tests ----

func TestCreateJob_201(t *testing.T) {
	s := newServer(map[string]int{"u1": 10})

	rr := s.do(http.MethodPost, "/jobs", map[string]any{
		"user_id": "u1",
		"input": map[string]any{
			"hero":  map[string]any{"name": "Leo"},
			"story": map[string]any{"title": "Leo and the Lighthouse", "description": "A stormy night."},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{resp.ID}, s.queue.scheduled)
	assert.Equal(t, 0, s.wallet.balances["u1"])
}

func TestCreateJob_402WhenBroke(t *testing.T) {
	s := newServer(map[string]int{"u1": 9})

	rr := s.do(http.MethodPost, "/jobs", map[string]any{
		"user_id": "u1",
		"input": map[string]any{
			"hero":  map[string]any{"name": "Leo"},
			"story": map[string]any{"title": "T", "description": "D"},
		},
	})
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Empty(t, s.queue.scheduled)
}

func TestCreateJob_400OnBadJSON(t *testing.T) {
	s := newServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetJob_200And404(t *testing.T) {
	s := newServer(nil)
	job := s.seedAwaiting()

	rr := s.do(http.MethodGet, "/jobs/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Output   struct {
			GeneratedPages map[string]string `json:"generatedPages"`
		} `json:"output"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "awaiting_approval", resp.Status)
	assert.Equal(t, 80, resp.Progress)
	assert.Len(t, resp.Output.GeneratedPages, len(entity.AllTargets))
	assert.Contains(t, resp.Output.GeneratedPages, "storyPage10")

	rr = s.do(http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodGet, "/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetJobResult(t *testing.T) {
	s := newServer(nil)
	job := s.seedAwaiting()

	rr := s.do(http.MethodGet, "/jobs/"+job.ID.String()+"/result", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	stored := s.repo.jobs[job.ID]
	stored.Status = entity.StatusCompleted
	stored.Output.ComicURL = "https://docs.example/customer.pdf"
	stored.Output.CoverURL = "https://docs.example/cover.pdf"
	stored.Output.InteriorURL = "https://docs.example/interior.pdf"

	rr = s.do(http.MethodGet, "/jobs/"+job.ID.String()+"/result", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{
		"comicUrl": "https://docs.example/customer.pdf",
		"coverUrl": "https://docs.example/cover.pdf",
		"interiorUrl": "https://docs.example/interior.pdf"
	}`, rr.Body.String())
}

func TestApproval_RoundTrip(t *testing.T) {
	s := newServer(nil)
	job := s.seedAwaiting()
	path := "/jobs/" + job.ID.String() + "/pages/storyPage3/approval"

	rr := s.do(http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"target":"storyPage3","approved":true}`, rr.Body.String())
	assert.True(t, s.repo.jobs[job.ID].PageApprovals[entity.TargetStoryPage3])

	rr = s.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, s.repo.jobs[job.ID].PageApprovals[entity.TargetStoryPage3])
}

func TestApproval_400OnUnknownTarget(t *testing.T) {
	s := newServer(nil)
	job := s.seedAwaiting()

	rr := s.do(http.MethodPost, "/jobs/"+job.ID.String()+"/pages/storyPage11/approval", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestApproval_409WhileGenerating(t *testing.T) {
	s := newServer(nil)
	job := s.seedAwaiting()
	s.repo.jobs[job.ID].Status = entity.StatusProcessing

	rr := s.do(http.MethodPost, "/jobs/"+job.ID.String()+"/pages/cover/approval", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestFinalize_409ListsMissingApprovals(t *testing.T) {
	s := newServer(nil)
	job := s.seedAwaiting()
	for _, target := range entity.RequiredApprovals() {
		s.repo.jobs[job.ID].PageApprovals[target] = target != entity.TargetStoryPage7
	}

	rr := s.do(http.MethodPost, "/jobs/"+job.ID.String()+"/finalize", nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	var resp struct {
		MissingApprovals []string `json:"missingApprovals"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"storyPage7"}, resp.MissingApprovals)
	assert.Empty(t, s.queue.scheduled)
}

func TestFinalize_202(t *testing.T) {
	s := newServer(nil)
	job := s.seedAwaiting()
	for _, target := range entity.RequiredApprovals() {
		s.repo.jobs[job.ID].PageApprovals[target] = true
	}

	rr := s.do(http.MethodPost, "/jobs/"+job.ID.String()+"/finalize", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{job.ID.String()}, s.queue.scheduled)
	assert.Equal(t, entity.StatusProcessing, s.repo.jobs[job.ID].Status)
}

func TestEditPage_200ResetsApproval(t *testing.T) {
	s := newServer(map[string]int{"u1": 2})
	job := s.seedAwaiting()
	s.repo.jobs[job.ID].PageApprovals[entity.TargetStoryPage2] = true

	rr := s.do(http.MethodPost, "/jobs/"+job.ID.String()+"/pages/storyPage2/edit", map[string]any{
		"instructions": "make the sky orange",
		"panel":        3,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		AssetPath string `json:"assetPath"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "jobs/"+job.ID.String()+"/pages/storyPage2-edit.png", resp.AssetPath)

	stored := s.repo.jobs[job.ID]
	assert.False(t, stored.PageApprovals[entity.TargetStoryPage2])
	assert.Equal(t, resp.AssetPath, stored.Output.GeneratedPages[entity.TargetStoryPage2])
	assert.Equal(t, 1, s.wallet.balances["u1"])
}

func TestEditPage_402WhenBroke(t *testing.T) {
	s := newServer(map[string]int{"u1": 0})
	job := s.seedAwaiting()

	rr := s.do(http.MethodPost, "/jobs/"+job.ID.String()+"/pages/storyPage2/edit", map[string]any{
		"instructions": "make the sky orange",
	})
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, "jobs/"+job.ID.String()+"/pages/storyPage2.png",
		s.repo.jobs[job.ID].Output.GeneratedPages[entity.TargetStoryPage2])
}

func TestEditPage_400OnPanelOutOfRange(t *testing.T) {
	s := newServer(map[string]int{"u1": 2})
	job := s.seedAwaiting()

	rr := s.do(http.MethodPost, "/jobs/"+job.ID.String()+"/pages/storyPage2/edit", map[string]any{
		"instructions": "x",
		"panel":        9,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 2, s.wallet.balances["u1"])
}

func TestHealth(t *testing.T) {
	s := newServer(nil)
	rr := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestGetBalance(t *testing.T) {
	s := newServer(map[string]int{"u1": 7})

	rr := s.do(http.MethodGet, "/users/u1/credits", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"user_id":"u1","balance":7}`, rr.Body.String())
}

func TestSwaggerDoc(t *testing.T) {
	s := newServer(nil)

	rr := s.do(http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Contains(t, doc.Paths, "/jobs/{id}/finalize")
	assert.Contains(t, doc.Paths, "/users/{userID}/credits")
}
