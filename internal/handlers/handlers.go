// Package handlers implements the HTTP API: synchronous text validation,
// report intake, rate-limit introspection, and the operator endpoints for
// content lookup, reports, audit, and aggregate stats.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"vigil/internal/database/sqlitestore"
	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/ratelimit"

	"github.com/rs/zerolog/log"
)

// UserHeader carries the caller's user ID. The service sits behind the app
// backend, which authenticates users and forwards their identity here.
const UserHeader = "X-Vigil-User"

// Handler holds all HTTP handlers and their dependencies.
type Handler struct {
	service *pipeline.Service
	limiter *ratelimit.Limiter

	// analytics is optional; nil disables the stats endpoint.
	analytics *sqlitestore.Analytics
}

// NewHandler creates a new Handler instance.
func NewHandler(service *pipeline.Service, limiter *ratelimit.Limiter, analytics *sqlitestore.Analytics) *Handler {
	return &Handler{
		service:   service,
		limiter:   limiter,
		analytics: analytics,
	}
}

// errorResponse is the JSON body for every error status.
type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Status: status, Message: message}); err != nil {
		log.Error().Err(err).Msg("handlers: failed to encode error response")
	}
}

func writeJSON(w http.ResponseWriter, v any, entityName string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("entity", entityName).Msg("handlers: failed to encode response")
	}
}

// writeServiceError maps pipeline errors to HTTP statuses. Anything not
// recognized is a 500 with a generic body; the detail goes to the log only.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case pipeline.IsValidation(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, "content item not found", http.StatusNotFound)
	case errors.Is(err, pipeline.ErrDuplicateReport):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg("handlers: request failed")
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeRateLimited writes a 429 with the window's reset time, both as a
// Retry-After header and in the body.
func writeRateLimited(w http.ResponseWriter, snap ratelimit.Snapshot) {
	metrics.RateLimitRejectionsTotal.WithLabelValues(string(snap.Action)).Inc()

	// Seconds until the window rolls over, not the whole window length.
	retryAfter := int(time.Until(snap.ResetAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	body := struct {
		Status  int                `json:"status"`
		Message string             `json:"message"`
		Limit   ratelimit.Snapshot `json:"limit"`
	}{
		Status:  http.StatusTooManyRequests,
		Message: "rate limit exceeded",
		Limit:   snap,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("handlers: failed to encode rate limit response")
	}
}

// requireUser extracts the caller's user ID, writing a 401 if absent. The
// second return value tells the handler whether to proceed.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, "missing "+UserHeader+" header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// limitParam parses the optional ?limit= query parameter, clamped to max.
func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// HandleHealthz reports liveness.
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, "healthz")
}
