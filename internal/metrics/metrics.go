package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featherine_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "featherine_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 15},
		},
		[]string{"method", "path"},
	)

	// Conversation metrics
	Completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featherine_completions_total",
			Help: "Completion requests by outcome",
		},
		[]string{"outcome"}, // "ok", "failed" o "discarded"
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "featherine_completion_duration_seconds",
			Help:    "Completion request latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	SessionsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "featherine_sessions_archived_total",
			Help: "Sessions written to history",
		},
	)

	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "featherine_archive_failures_total",
			Help: "Sessions that could not be written to history",
		},
	)

	// Workspace metrics
	ActiveWorkspaces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "featherine_active_workspaces",
			Help: "Device workspaces held in memory",
		},
	)

	WorkspacesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "featherine_workspaces_evicted_total",
			Help: "Device workspaces dropped for being idle or over capacity",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featherine_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Auth metrics
	SignIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featherine_sign_ins_total",
			Help: "Sign-in attempts by result",
		},
		[]string{"result"},
	)
)

// Outcome labels for Completions.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)
