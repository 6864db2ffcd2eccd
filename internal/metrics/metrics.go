// Package metrics exposes Prometheus collectors for the enrichment engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_upstream_calls_total",
			Help: "Physical upstream scraping calls, labeled by result code. Retries count individually.",
		},
		[]string{"code"},
	)

	upstreamCallSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enricher_upstream_call_seconds",
			Help:    "Latency of physical upstream calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"code"},
	)

	enrichmentOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_outcomes_total",
			Help: "Terminal enrichment outcomes, labeled by event type and source.",
		},
		[]string{"type", "source"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_submissions_total",
			Help: "Submission decisions, labeled by reason.",
		},
		[]string{"reason"},
	)

	activeFetches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enricher_active_fetches",
			Help: "Enrichment attempts currently in flight.",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enricher_queue_depth",
			Help: "Items admitted and waiting to start, including the batch buffer.",
		},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enricher_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		},
	)

	cacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_cache_reads_total",
			Help: "Result cache reads, labeled by outcome (fresh, stale, miss, error).",
		},
		[]string{"outcome"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstreamCall records one physical upstream call.
func ObserveUpstreamCall(code string, duration time.Duration) {
	upstreamCallsTotal.WithLabelValues(code).Inc()
	upstreamCallSeconds.WithLabelValues(code).Observe(duration.Seconds())
}

// ObserveOutcome records a terminal enrichment event.
func ObserveOutcome(eventType, source string) {
	enrichmentOutcomesTotal.WithLabelValues(eventType, source).Inc()
}

// ObserveSubmission records a submission decision.
func ObserveSubmission(reason string) {
	submissionsTotal.WithLabelValues(reason).Inc()
}

// IncActiveFetches increments the in-flight gauge.
func IncActiveFetches() {
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight gauge.
func DecActiveFetches() {
	activeFetches.Dec()
}

// SetQueueDepth records the number of admitted items not yet started.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetBreakerState records the breaker state gauge value.
func SetBreakerState(state float64) {
	breakerState.Set(state)
}

// ObserveCacheRead records a result cache read outcome.
func ObserveCacheRead(outcome string) {
	cacheReadsTotal.WithLabelValues(outcome).Inc()
}
