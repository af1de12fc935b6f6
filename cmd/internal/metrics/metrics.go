// Package metrics owns the Prometheus collectors exported on /metrics.
//
// All recording methods are nil-safe so services can run without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passport"

// Metrics groups the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	authResults     *prometheus.CounterVec
	sessionCache    *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
	challengeSteps  prometheus.Histogram
	factorAttempts  *prometheus.CounterVec
	apiKeyRotations *prometheus.CounterVec
}

// New builds and registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_results_total",
			Help:      "Token authentication outcomes.",
		}, []string{"result"}),
		sessionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cache_lookups_total",
			Help:      "Session cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "revoked_total",
			Help:      "Sessions expired by revocation.",
		}),
		challengeSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "required_steps",
			Help:      "Steps required by newly created challenges.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		factorAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "factor_attempts_total",
			Help:      "Factor verification attempts by factor type and result.",
		}, []string{"type", "result"}),
		apiKeyRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "rotations_total",
			Help:      "API key rotations by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authResults,
		m.sessionCache,
		m.sessionsRevoked,
		m.challengeSteps,
		m.factorAttempts,
		m.apiKeyRotations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) AuthResult(result string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.sessionCache.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionsRevoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsRevoked.Add(float64(n))
}

func (m *Metrics) ChallengeSteps(steps int) {
	if m == nil {
		return
	}
	m.challengeSteps.Observe(float64(steps))
}

func (m *Metrics) FactorAttempt(factorType, result string) {
	if m == nil {
		return
	}
	m.factorAttempts.WithLabelValues(factorType, result).Inc()
}

func (m *Metrics) APIKeyRotation(result string) {
	if m == nil {
		return
	}
	m.apiKeyRotations.WithLabelValues(result).Inc()
}
