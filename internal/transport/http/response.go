package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/repository/postgresql"
)

type apiError struct {
	Message          string   `json:"message"`
	MissingApprovals []string `json:"missingApprovals,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeServiceErr maps domain errors to status codes.
func writeServiceErr(w http.ResponseWriter, err error) {
	var missing *entity.MissingApprovalsError
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusConflict, apiError{Message: "missing approvals", MissingApprovals: missing.Keys()})
	case errors.Is(err, postgresql.ErrNotFound):
		writeErr(w, http.StatusNotFound, "job not found")
	case errors.Is(err, entity.ErrInsufficientCredits):
		writeErr(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, entity.ErrInvalidState), errors.Is(err, postgresql.ErrVersionConflict):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrEditLimit):
		writeErr(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, entity.ErrInvalidInput),
		errors.Is(err, entity.ErrUnknownTarget),
		errors.Is(err, entity.ErrInvalidPanel),
		errors.Is(err, entity.ErrNoPage):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
