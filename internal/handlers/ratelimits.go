package handlers

import (
	"net/http"
)

// HandleRateLimits returns the caller's current window state for every
// configured action, without consuming quota.
// GET /api/rate-limits
func (h *Handler) HandleRateLimits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.limiter.Status(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, status, "rate limits")
}
