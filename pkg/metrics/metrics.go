// Package metrics defines the Prometheus metric collectors used across the
// moderation service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	DecisionsTotal      *prometheus.CounterVec
	RuleMatchesTotal    *prometheus.CounterVec
	PipelineDuration    *prometheus.HistogramVec
	AICallsTotal        *prometheus.CounterVec
	AICallDuration      *prometheus.HistogramVec
	AICallsInFlight     prometheus.Gauge
	ChunksPerEvaluation prometheus.Histogram

	ResultCacheHits     prometheus.Counter
	ResultCacheMisses   prometheus.Counter
	RuleCacheHits       prometheus.Counter
	RuleCacheMisses     prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_decisions_total",
				Help: "Final moderation decisions by status (approved, rejected, flagged).",
			},
			[]string{"status"},
		),
		RuleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_rule_matches_total",
				Help: "Rule matches by rule kind (keyword, regex, ai_prompt).",
			},
			[]string{"kind"},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moderation_pipeline_duration_seconds",
				Help:    "End-to-end moderation pipeline latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		AICallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_ai_calls_total",
				Help: "Outbound AI analysis calls by provider and outcome (ok, retryable_error, permanent_error).",
			},
			[]string{"provider", "outcome"},
		),
		AICallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moderation_ai_call_duration_seconds",
				Help:    "Latency of individual AI analysis calls in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		AICallsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "moderation_ai_calls_in_flight",
				Help: "Number of AI analysis calls currently in flight.",
			},
		),
		ChunksPerEvaluation: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "moderation_chunks_per_evaluation",
				Help:    "Number of content chunks analysed per AI rule evaluation.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		ResultCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_result_cache_hits_total",
				Help: "Total AI result cache hits.",
			},
		),
		ResultCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_result_cache_misses_total",
				Help: "Total AI result cache misses.",
			},
		),
		RuleCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_rule_cache_hits_total",
				Help: "Total rule cache hits.",
			},
		),
		RuleCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "moderation_rule_cache_misses_total",
				Help: "Total rule cache misses (including forced refreshes).",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_notifications_total",
				Help: "Notification events by delivery result (sent, failed, dropped).",
			},
			[]string{"result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DecisionsTotal,
		m.RuleMatchesTotal,
		m.PipelineDuration,
		m.AICallsTotal,
		m.AICallDuration,
		m.AICallsInFlight,
		m.ChunksPerEvaluation,
		m.ResultCacheHits,
		m.ResultCacheMisses,
		m.RuleCacheHits,
		m.RuleCacheMisses,
		m.NotificationsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
