package arbiter

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes arbitration observability via Prometheus and keeps a small
// set of atomic counters for the in-process Snapshot view. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	fallbackAttempts prometheus.Histogram
	breakerChanges   *prometheus.CounterVec
	limitViolations  *prometheus.CounterVec

	totalDecisions   atomic.Uint64
	totalFailures    atomic.Uint64
	totalRateLimited atomic.Uint64
	totalFallbacks   atomic.Uint64
}

// MetricsSnapshot is a point-in-time view of the counters, for health
// endpoints that don't scrape Prometheus.
type MetricsSnapshot struct {
	Decisions   uint64
	Failures    uint64
	RateLimited uint64
	Fallbacks   uint64
}

// NewMetrics registers the arbiter collectors with reg. A nil registerer
// falls back to the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "decisions_total",
			Help:      "Arbitration decisions by outcome.",
		}, []string{"outcome"}),
		decisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbiter",
			Name:      "decision_duration_seconds",
			Help:      "Time spent selecting a model, excluding execution.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		fallbackAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbiter",
			Name:      "fallback_attempts",
			Help:      "Execution attempts spent per request.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		breakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by provider.",
		}, []string{"provider", "to"}),
		limitViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "rate_limit_violations_total",
			Help:      "Denied admission checks by dimension.",
		}, []string{"dimension"}),
	}
}

// ObserveDecision records one arbitration outcome and its selection latency.
func (m *Metrics) ObserveDecision(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
	m.decisionDuration.Observe(d.Seconds())
	m.totalDecisions.Add(1)
	if outcome != "selected" {
		m.totalFailures.Add(1)
	}
}

// ObserveFallback records how many execution attempts a request spent.
func (m *Metrics) ObserveFallback(attempts int) {
	if m == nil || attempts == 0 {
		return
	}
	m.fallbackAttempts.Observe(float64(attempts))
	if attempts > 1 {
		m.totalFallbacks.Add(1)
	}
}

// BreakerTransition records a circuit state change.
func (m *Metrics) BreakerTransition(providerID, to string) {
	if m == nil {
		return
	}
	m.breakerChanges.WithLabelValues(providerID, to).Inc()
}

// RateLimitViolation records a denied admission check.
func (m *Metrics) RateLimitViolation(dimension string) {
	if m == nil {
		return
	}
	m.limitViolations.WithLabelValues(dimension).Inc()
	m.totalRateLimited.Add(1)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Decisions:   m.totalDecisions.Load(),
		Failures:    m.totalFailures.Load(),
		RateLimited: m.totalRateLimited.Load(),
		Fallbacks:   m.totalFallbacks.Load(),
	}
}
