// Package metrics exposes prometheus instrumentation for the discovery
// engine. All methods are nil-safe so metrics stay optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal   *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	terminals     *prometheus.CounterVec
	enrichments   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ponwatch_discovery_cycles_total",
			Help: "Discovery cycles per device and result.",
		}, []string{"device", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ponwatch_discovery_cycle_seconds",
			Help:    "Duration of one discovery cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"device"}),
		terminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ponwatch_terminals_total",
			Help: "Terminals per device and persistence outcome.",
		}, []string{"device", "outcome"}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ponwatch_enrichments_total",
			Help: "Enrichment fetches per device and outcome.",
		}, []string{"device", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cyclesTotal,
		m.cycleDuration,
		m.terminals,
		m.enrichments,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCycle(device string, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(device, result).Inc()
	m.cycleDuration.WithLabelValues(device).Observe(d.Seconds())
}

func (m *Metrics) AddTerminals(device string, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.terminals.WithLabelValues(device, outcome).Add(float64(n))
}

func (m *Metrics) EnrichmentOutcome(device string, outcome string) {
	if m == nil {
		return
	}
	m.enrichments.WithLabelValues(device, outcome).Inc()
}
