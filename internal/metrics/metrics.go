// Package metrics exposes Prometheus collectors for state refreshes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
)

const namespace = "chamicore_ui"

// Metrics owns a private registry so tests and multiple stores never collide
// on the global default registerer.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
}

var _ state.Recorder = (*Metrics)(nil)

// New creates and registers the refresh collectors. observers, when non-nil,
// backs the chamicore_ui_observers gauge.
func New(observers func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Number of completed refreshes by resource and result.",
		}, []string{"resource", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of remote fetches by resource.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshTotal,
		m.refreshDuration,
	)
	if observers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Number of active state subscriptions.",
		}, func() float64 { return float64(observers()) }))
	}
	return m
}

// RecordRefresh implements state.Recorder.
func (m *Metrics) RecordRefresh(c state.Completion) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(c.Resource, string(c.Outcome)).Inc()
	m.refreshDuration.WithLabelValues(c.Resource).Observe(c.Duration.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
