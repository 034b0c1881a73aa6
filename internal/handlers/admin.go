package handlers

import (
	"net/http"
)

// HandleStats returns aggregate decision and report counts from the analytics
// mirror. Operator endpoint.
// GET /api/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}
	if h.analytics == nil {
		writeError(w, "analytics not configured", http.StatusServiceUnavailable)
		return
	}

	stats, err := h.analytics.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, stats, "stats")
}

// HandleAuditRecent returns the newest audit entries across all content.
// Operator endpoint.
// GET /api/audit
func (h *Handler) HandleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	entries, err := h.service.RecentAudit(r.Context(), limitParam(r, 100, 500))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"entries": entries}, "audit entries")
}
