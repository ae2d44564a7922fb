// Package metrics provides Prometheus metrics for the auth gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the auth gateway.
type Metrics struct {
	enabled bool

	// Authentication metrics
	authRequestsTotal *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec

	// Refresh rotation metrics
	rotationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec

	// Events feed metrics
	eventSubscribers prometheus.Gauge
}

// New creates metrics registered on the default registry.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	return NewWith(enabled, prometheus.DefaultRegisterer)
}

// NewWith creates metrics registered on the given registerer. Tests use a
// fresh registry to avoid duplicate registration across cases.
func NewWith(enabled bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	factory := promauto.With(reg)

	m.authRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_auth_requests_total",
		Help: "Total auth operations by outcome",
	}, []string{"operation", "outcome"})

	m.authFailuresTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_auth_failures_total",
		Help: "Total auth failures by reason",
	}, []string{"operation", "reason"})

	m.rotationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_refresh_rotations_total",
		Help: "Total refresh rotations by result",
	}, []string{"result"})

	m.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gate_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	m.eventSubscribers = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gate_event_subscribers",
		Help: "Currently connected event feed subscribers",
	})

	return m
}

// RecordAuth records the outcome of an auth operation.
func (m *Metrics) RecordAuth(operation, outcome string) {
	if !m.enabled {
		return
	}
	m.authRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordAuthFailure records a failed auth operation with a reason.
func (m *Metrics) RecordAuthFailure(operation, reason string) {
	if !m.enabled {
		return
	}
	m.authRequestsTotal.WithLabelValues(operation, "failure").Inc()
	m.authFailuresTotal.WithLabelValues(operation, reason).Inc()
}

// RecordRotation records a refresh rotation result
// (rotated, reuse_detected, revoked, expired, not_found).
func (m *Metrics) RecordRotation(result string) {
	if !m.enabled {
		return
	}
	m.rotationsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTP records one handled HTTP request.
func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if !m.enabled {
		return
	}
	m.httpRequestDuration.WithLabelValues(route, status).Observe(seconds)
}

// SubscriberConnected tracks an event feed attach.
func (m *Metrics) SubscriberConnected() {
	if !m.enabled {
		return
	}
	m.eventSubscribers.Inc()
}

// SubscriberDisconnected tracks an event feed detach.
func (m *Metrics) SubscriberDisconnected() {
	if !m.enabled {
		return
	}
	m.eventSubscribers.Dec()
}
