// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
)

// RespondentDependencies is the S2S surface used by respondent handlers.
type RespondentDependencies interface {
	ValidateRespondent(ctx context.Context, respondentID string) (model.RespondentValidation, error)
	UpdateRespondentStatus(ctx context.Context, respondentID string, status model.RespondentStatus) (model.StatusUpdateResult, error)
}

// OverviewDependencies is the orchestrator surface used for polling.
type OverviewDependencies interface {
	GetTargetGroupOverview(ctx context.Context, projectID, targetGroupID string) (model.TargetGroupOverview, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RespondentDependencies
	OverviewDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	respondentsHandler *RespondentsHandler
	overviewHandler    *OverviewHandler
}

// Option applies a configuration option to the Server.
type Option func(*serverConfig)

type serverConfig struct {
	logger logger.Logger
}

// WithLogger sets the logger handlers use for failed vendor calls.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		respondentsHandler: NewRespondentsHandler(deps, cfg.logger),
		overviewHandler:    NewOverviewHandler(deps, cfg.logger),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /respondents/{id}",
		MetricsMiddleware(s.respondentsHandler.HandleValidate, "respondent_validate"))
	mux.HandleFunc("POST /respondents/{id}/status",
		MetricsMiddleware(s.respondentsHandler.HandleUpdateStatus, "respondent_status"))
	mux.HandleFunc("GET /projects/{projectID}/target-groups/{targetGroupID}/overview",
		MetricsMiddleware(s.overviewHandler.HandleGetOverview, "target_group_overview"))
}

type errorResponse struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	VendorStatus int    `json:"vendor_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a typed error onto a response and logs it.
func writeFailure(ctx context.Context, l logger.Logger, w http.ResponseWriter, op string, err error, fields ...logger.Field) {
	m := classify(err)
	if m.status >= http.StatusInternalServerError {
		l.Error(ctx, "request failed", append(fields, logger.String("operation", op), logger.Error(err))...)
	}
	writeJSON(w, m.status, errorResponse{Code: m.code, Message: err.Error(), VendorStatus: m.vendorStatus})
}
