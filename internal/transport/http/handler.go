package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/service"
)

// BalanceReader is implemented by ledger.Ledger.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

type Handler struct {
	jobSvc  *service.JobService
	credits BalanceReader
}

func NewHandler(jobSvc *service.JobService, credits BalanceReader) *Handler {
	return &Handler{jobSvc: jobSvc, credits: credits}
}

type createJobDTO struct {
	UserID string       `json:"user_id"`
	Input  entity.Input `json:"input"`
}

type createJobResp struct {
	ID string `json:"id"`
}

type jobResp struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id"`
	Status        entity.JobStatus       `json:"status"`
	Progress      int                    `json:"progress"`
	CurrentPage   int                    `json:"current_page"`
	Input         entity.Input           `json:"input"`
	Output        entity.Output          `json:"output"`
	PageApprovals map[entity.Target]bool `json:"page_approvals"`
	CreditsUsed   int                    `json:"credits_used"`
	Error         *string                `json:"error,omitempty"`
	CreatedAt     string                 `json:"created_at"`
	UpdatedAt     string                 `json:"updated_at"`
}

type resultResp struct {
	ComicURL    string `json:"comicUrl"`
	CoverURL    string `json:"coverUrl"`
	InteriorURL string `json:"interiorUrl"`
}

type editDTO struct {
	Instructions string `json:"instructions"`
	// 0 = whole page, 1..n = panel band
	Panel int `json:"panel"`
}

type editResp struct {
	AssetPath string `json:"assetPath"`
}

type balanceResp struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// CreateJob godoc
// @Summary Create a comic job
// @Description Debits the generation cost and schedules the first step.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job payload"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 402 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobSvc.CreateJob(r.Context(), service.CreateJobRequest{
		UserID: dto.UserID,
		Input:  dto.Input,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{ID: id.String()})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jobResp{
		ID:            j.ID.String(),
		UserID:        j.UserID,
		Status:        j.Status,
		Progress:      j.Progress,
		CurrentPage:   j.CurrentPage,
		Input:         j.Input,
		Output:        j.Output,
		PageApprovals: j.PageApprovals,
		CreditsUsed:   j.CreditsUsed,
		Error:         j.ErrorMessage,
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     j.UpdatedAt.Format(time.RFC3339),
	})
}

// GetJobResult godoc
// @Summary Get the finished documents
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} resultResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if j.Status != entity.StatusCompleted {
		writeErr(w, http.StatusConflict, "job not completed")
		return
	}

	writeJSON(w, http.StatusOK, resultResp{
		ComicURL:    j.Output.ComicURL,
		CoverURL:    j.Output.CoverURL,
		InteriorURL: j.Output.InteriorURL,
	})
}

// Approve godoc
// @Summary Approve a page
// @Tags approval
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param target path string true "cover, storyPage1..storyPage10 or backCover"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/pages/{target}/approval [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.setApproval(w, r, true)
}

// Unapprove godoc
// @Summary Withdraw a page approval
// @Tags approval
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param target path string true "cover, storyPage1..storyPage10 or backCover"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/pages/{target}/approval [delete]
func (h *Handler) Unapprove(w http.ResponseWriter, r *http.Request) {
	h.setApproval(w, r, false)
}

func (h *Handler) setApproval(w http.ResponseWriter, r *http.Request, approved bool) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	target, ok := parseTarget(w, r)
	if !ok {
		return
	}

	var err error
	if approved {
		_, err = h.jobSvc.Approve(r.Context(), id, target)
	} else {
		_, err = h.jobSvc.Unapprove(r.Context(), id, target)
	}
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target.String(), "approved": approved})
}

// EditPage godoc
// @Summary Regenerate a page or one of its panels
// @Description Debits the edit cost first; the page's approval is reset on success.
// @Tags approval
// @Accept json
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param target path string true "cover, storyPage1..storyPage10 or backCover"
// @Param request body editDTO true "edit instructions"
// @Success 200 {object} editResp
// @Failure 400 {object} apiError
// @Failure 402 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/pages/{target}/edit [post]
func (h *Handler) EditPage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	target, ok := parseTarget(w, r)
	if !ok {
		return
	}
	var dto editDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	asset, err := h.jobSvc.Edit(r.Context(), service.EditRequest{
		JobID:        id,
		Target:       target,
		Instructions: dto.Instructions,
		Panel:        dto.Panel,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, editResp{AssetPath: asset})
}

// Finalize godoc
// @Summary Assemble the approved book
// @Description Rejected with the list of missing approvals when the gate is not satisfied.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} map[string]string
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/finalize [post]
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.jobSvc.Finalize(r.Context(), id); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(entity.StatusProcessing)})
}

// GetBalance godoc
// @Summary Get a user's credit balance
// @Tags credits
// @Produce json
// @Param userID path string true "user id"
// @Success 200 {object} balanceResp
// @Failure 500 {object} apiError
// @Router /users/{userID}/credits [get]
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := h.credits.Balance(r.Context(), userID)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResp{UserID: userID, Balance: balance})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func parseTarget(w http.ResponseWriter, r *http.Request) (entity.Target, bool) {
	t, err := entity.ParseTarget(chi.URLParam(r, "target"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return t, true
}
