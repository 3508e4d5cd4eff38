package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the journey service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Journey metrics
	InstancesCreatedTotal *prometheus.CounterVec
	TransitionsTotal      *prometheus.CounterVec
	TransitionConflicts   *prometheus.CounterVec

	// Approval metrics
	ApprovalsOpenedTotal    *prometheus.CounterVec
	ApprovalsResolvedTotal  *prometheus.CounterVec
	BoardProjectionFailures prometheus.Counter
	BoardBreakerState       prometheus.Gauge

	// Definition metrics
	DefinitionsPublishedTotal *prometheus.CounterVec
	DefinitionCacheHitsTotal  prometheus.Counter
	DefinitionCacheMissTotal  prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "journey_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_commands_total",
			Help: "Total number of resolved commands.",
		}, []string{"journey_code", "command", "status"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "journey_command_duration_seconds",
			Help:    "Command resolution duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"journey_code", "command"}),

		InstancesCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_instances_created_total",
			Help: "Total number of journey instances created.",
		}, []string{"journey_code"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_transitions_total",
			Help: "Total number of applied or rejected state transitions.",
		}, []string{"journey_code", "origin", "status"}),
		TransitionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_transition_conflicts_total",
			Help: "Total number of optimistic-lock conflicts during transitions.",
		}, []string{"journey_code"}),

		ApprovalsOpenedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_approvals_opened_total",
			Help: "Total number of approval requests opened.",
		}, []string{"policy_code"}),
		ApprovalsResolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_approvals_resolved_total",
			Help: "Total number of approval requests resolved.",
		}, []string{"policy_code", "decision"}),
		BoardProjectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journey_board_projection_failures_total",
			Help: "Total number of failed kanban board card projections.",
		}),
		BoardBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journey_board_circuit_breaker_state",
			Help: "Board client circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		DefinitionsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_definitions_published_total",
			Help: "Total number of published journey definition versions.",
		}, []string{"status"}),
		DefinitionCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journey_definition_cache_hits_total",
			Help: "Total definition version cache hits.",
		}),
		DefinitionCacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journey_definition_cache_misses_total",
			Help: "Total definition version cache misses.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CommandsTotal,
		m.CommandDuration,
		m.InstancesCreatedTotal,
		m.TransitionsTotal,
		m.TransitionConflicts,
		m.ApprovalsOpenedTotal,
		m.ApprovalsResolvedTotal,
		m.BoardProjectionFailures,
		m.BoardBreakerState,
		m.DefinitionsPublishedTotal,
		m.DefinitionCacheHitsTotal,
		m.DefinitionCacheMissTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// MetricsMiddleware records request counts and durations labeled by the chi
// route pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				pattern = p
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
