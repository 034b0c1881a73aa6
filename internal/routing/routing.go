package routing

import (
	"net/http"

	"vigil/internal/handlers"
	"vigil/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MaxBodyBytes caps request bodies. Text messages and reports are small; a
// larger payload is always malformed or hostile.
const MaxBodyBytes = 64 << 10

// Config holds the configuration needed for setting up routes
type Config struct {
	Handlers *handlers.Handler
	Logger   zerolog.Logger
}

// SetupRouter creates and configures the HTTP router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// Caller-facing API
	mux.HandleFunc("POST /api/validate-text", h.HandleValidateText)
	mux.HandleFunc("POST /api/reports", h.HandleReportSubmit)
	mux.HandleFunc("GET /api/rate-limits", h.HandleRateLimits)

	// Operator API
	mux.HandleFunc("GET /api/contents/{id}", h.HandleContentGet)
	mux.HandleFunc("GET /api/reports", h.HandleReportsList)
	mux.HandleFunc("GET /api/audit", h.HandleAuditRecent)
	mux.HandleFunc("GET /api/stats", h.HandleStats)

	// Operational endpoints
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Apply middleware in order (outermost first, innermost last)
	var handler http.Handler = mux

	// 1. Limit request body size (innermost - runs first on request)
	handler = middleware.LimitBody(MaxBodyBytes)(handler)

	// 2. Apply logging middleware (outermost - wraps everything)
	handler = middleware.LoggingMiddleware(cfg.Logger)(handler)

	return handler
}
