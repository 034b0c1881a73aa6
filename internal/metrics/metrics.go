package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})
)

// Pipeline metrics
var (
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_decisions_total",
		Help: "Total number of moderation decisions",
	}, []string{"kind", "outcome", "reason"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_transitions_total",
		Help: "Total number of content item state transitions",
	}, []string{"from", "to"})

	IntegrityViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_integrity_violations_total",
		Help: "Total number of detected integrity violations",
	})

	UserViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_user_violations_total",
		Help: "Total number of blocked items attributed to content owners",
	})
)

// Classifier metrics
var (
	ClassifierCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_classifier_calls_total",
		Help: "Total number of image classifier calls",
	}, []string{"status"})

	ClassifierCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_classifier_call_duration_seconds",
		Help:    "Image classifier call duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// Rate limit metrics
var (
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_rate_limit_rejections_total",
		Help: "Total number of rate-limited actions",
	}, []string{"action"})
)

// Retry scheduler metrics
var (
	RetrySweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_retry_sweeps_total",
		Help: "Total number of retry scheduler sweeps",
	})

	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_retry_attempts_total",
		Help: "Total number of retry attempts by result",
	}, []string{"result"})
)

// Intake metrics
var (
	IntakeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_intake_events_total",
		Help: "Total number of storage events processed by the intake consumer",
	}, []string{"result"})

	IntakeConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_intake_connection_state",
		Help: "Intake consumer connection state (1=connected, 0=disconnected)",
	})

	IntakeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_intake_errors_total",
		Help: "Total number of intake processing errors",
	})
)

// Queue gauges (updated periodically by collector)
var (
	ContentItemsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_content_items_by_status",
		Help: "Number of content items by moderation status",
	}, []string{"status"})
)

// Report metrics
var (
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_reports_total",
		Help: "Total number of user reports submitted",
	}, []string{"category"})
)

// NormalizePath reduces high-cardinality path labels by replacing dynamic
// segments with placeholders. This keeps the metric label space bounded.
func NormalizePath(path string) string {
	segments := splitPath(path)
	if len(segments) < 2 {
		return path
	}

	if segments[0] == "api" && len(segments) == 3 {
		switch segments[1] {
		case "contents":
			return "/api/contents/:id"
		case "reports":
			return "/api/reports/:id"
		}
	}

	return path
}

func splitPath(path string) []string {
	// Skip leading slash
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	// Split on /
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}
