package api

import (
	"net/http"

	"github.com/okian/fieldwork/pkg/logger"
)

// OverviewHandler serves target group progress for polling callers.
type OverviewHandler struct {
	deps   OverviewDependencies
	logger logger.Logger
}

// NewOverviewHandler creates a new overview handler.
func NewOverviewHandler(deps OverviewDependencies, l logger.Logger) *OverviewHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &OverviewHandler{deps: deps, logger: l}
}

// HandleGetOverview handles GET /projects/{projectID}/target-groups/{targetGroupID}/overview.
func (h *OverviewHandler) HandleGetOverview(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_target_group_overview"
	projectID := r.PathValue("projectID")
	targetGroupID := r.PathValue("targetGroupID")

	overview, err := h.deps.GetTargetGroupOverview(r.Context(), projectID, targetGroupID)
	if err != nil {
		writeFailure(r.Context(), h.logger, w, op, err,
			logger.String("project_id", projectID),
			logger.String("target_group_id", targetGroupID),
		)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
