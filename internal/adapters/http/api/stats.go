package api

import (
	"net/http"
	"time"
)

// StatsProvider reports the running service state: configuration in effect,
// uptime and, in mock mode, the synthetic vendor's replay cache.
type StatsProvider interface {
	GetStats() map[string]any
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	provider StatsProvider
	now      func() time.Time
}

// NewStatsHandler creates a stats handler over provider.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, now: time.Now}
}

// HandleStats writes a fresh snapshot stamped with the time it was taken.
// Snapshots are never cacheable.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "stats_unavailable", nil)
		return
	}

	snapshot := make(map[string]any)
	for k, v := range h.provider.GetStats() {
		snapshot[k] = v
	}
	snapshot["generatedAt"] = h.now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, snapshot)
}
