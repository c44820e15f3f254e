// Package metrics exposes Prometheus collectors for the sensor.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sensor collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	signalsTotal     *prometheus.CounterVec
	pollsTotal       *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

// New creates a registry with all sensor collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_sensor_api_requests_total",
				Help: "Total number of intent API requests",
			},
			[]string{"endpoint", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intent_sensor_api_request_duration_seconds",
				Help:    "Intent API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		signalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_sensor_signals_total",
				Help: "Behavioral signals by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_sensor_polls_total",
				Help: "Intent status polls by outcome",
			},
			[]string{"outcome"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_sensor_widget_transitions_total",
				Help: "Widget state transitions",
			},
			[]string{"from", "to"},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.signalsTotal,
		m.pollsTotal,
		m.transitionsTotal,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one API round trip.
func (m *Metrics) ObserveRequest(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Signal records a behavioral signal outcome (sent, failed, dropped).
func (m *Metrics) Signal(signalType, outcome string) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(signalType, outcome).Inc()
}

// Poll records a status poll outcome (pending, crossed, failed, skipped).
func (m *Metrics) Poll(outcome string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(outcome).Inc()
}

// Transition records a widget state change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}
