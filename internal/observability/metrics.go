package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the orchestration layer. A nil
// *Metrics is a valid no-op receiver so tests and embedded use can skip
// metrics entirely.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbacksTotal  prometheus.Counter
	cacheHitsTotal  prometheus.Counter
	circuitState    *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sourcehub",
			Name:      "requests_total",
			Help:      "Orchestrated requests by source and outcome.",
		}, []string{"source", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sourcehub",
			Name:      "request_duration_seconds",
			Help:      "Duration of orchestrated source attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sourcehub",
			Name:      "fallbacks_total",
			Help:      "Requests answered by a fallback source.",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sourcehub",
			Name:      "cache_hits_total",
			Help:      "Requests answered from the response cache.",
		}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sourcehub",
			Name:      "circuit_open",
			Help:      "1 when the source's circuit is open, 0 otherwise.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.fallbacksTotal,
		m.cacheHitsTotal,
		m.circuitState,
	)
	return m
}

// ObserveAttempt records one real source attempt.
func (m *Metrics) ObserveAttempt(source string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.requestsTotal.WithLabelValues(source, outcome).Inc()
	m.requestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveFallback records a request answered via fallback.
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.fallbacksTotal.Inc()
}

// ObserveCacheHit records a request answered from cache.
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

// SetCircuitOpen mirrors a source's circuit state into the gauge.
func (m *Metrics) SetCircuitOpen(source string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	m.circuitState.WithLabelValues(source).Set(v)
}
