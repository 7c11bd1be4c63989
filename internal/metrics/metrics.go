// Package metrics holds the Prometheus collectors for the grants UI.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grants_ui"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	backendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "State backend calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of state backend calls including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"operation"},
	)

	gasCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gas",
			Name:      "calls_total",
			Help:      "GAS calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	reconcileDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "decisions_total",
			Help:      "Status reconciliation decisions by reason.",
		},
		[]string{"action", "reason"},
	)

	sessionSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expired_entries_total",
			Help:      "In-memory session entries removed by housekeeping.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		backendCalls,
		backendDuration,
		gasCalls,
		reconcileDecisions,
		sessionSweeps,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight and DecInFlight track requests currently being served.
func IncInFlight() { httpInFlight.Inc() }

func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one served request. path should be a route
// template, not the raw URL, to bound label cardinality.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBackendCall records a state backend operation.
func RecordBackendCall(operation, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	backendCalls.WithLabelValues(operation, outcome).Inc()
	backendDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGASCall records a GAS operation.
func RecordGASCall(operation, outcome string) {
	gasCalls.WithLabelValues(operation, outcome).Inc()
}

// RecordReconcileDecision records whether a request flowed through or was
// redirected, and why.
func RecordReconcileDecision(action, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	reconcileDecisions.WithLabelValues(action, reason).Inc()
}

// RecordSessionSweep records expired in-memory session entries.
func RecordSessionSweep(removed int) {
	if removed > 0 {
		sessionSweeps.Add(float64(removed))
	}
}
