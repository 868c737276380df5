package handlers

import (
	"net/http"

	"github.com/photogate/photogate/pkg/record/store"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	records store.Store
}

// NewHealthHandler creates the health handler. The record store may be
// nil, in which case readiness degrades to liveness.
func NewHealthHandler(records store.Store) *HealthHandler {
	return &HealthHandler{records: records}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Readiness handles GET /health/ready: liveness plus a record store
// ping.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.records != nil {
		if err := h.records.Ping(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"reason": "record store unreachable",
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
