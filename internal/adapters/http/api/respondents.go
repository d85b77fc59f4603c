package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
)

// RespondentsHandler serves the respondent redirect and webhook entry points.
type RespondentsHandler struct {
	deps   RespondentDependencies
	logger logger.Logger
}

// NewRespondentsHandler creates a new respondents handler.
func NewRespondentsHandler(deps RespondentDependencies, l logger.Logger) *RespondentsHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &RespondentsHandler{deps: deps, logger: l}
}

type validationResponse struct {
	RespondentID string            `json:"respondent_id"`
	Status       int               `json:"status"`
	Admit        bool              `json:"admit"`
	Links        map[string]string `json:"links,omitempty"`
}

type statusRequest struct {
	Status *int `json:"status"`
}

func (s statusRequest) validate() error {
	if s.Status == nil {
		return fmt.Errorf("%w: missing status", ErrBadRequest)
	}
	return nil
}

// HandleValidate handles GET /respondents/{id} requests.
func (h *RespondentsHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.validate_respondent"
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	v, err := h.deps.ValidateRespondent(r.Context(), id)
	if err != nil {
		writeFailure(r.Context(), h.logger, w, op, err, logger.String("respondent_id", id))
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{
		RespondentID: v.RespondentID,
		Status:       int(v.Status),
		Admit:        v.Admit(),
		Links:        v.Links,
	})
}

// HandleUpdateStatus handles POST /respondents/{id}/status requests.
func (h *RespondentsHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_respondent_status"
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	res, err := h.deps.UpdateRespondentStatus(r.Context(), id, model.RespondentStatus(*req.Status))
	if err != nil {
		writeFailure(r.Context(), h.logger, w, op, err, logger.String("respondent_id", id))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
