package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ingest collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	MessagesTotal     *prometheus.CounterVec
	SinkResults       *prometheus.CounterVec
	SinkDuration      *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry so several instances can coexist in tests.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "meterhub",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Number of open meter connections",
			},
		),

		ConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterhub",
				Subsystem: "connections",
				Name:      "total",
				Help:      "Total number of accepted meter connections",
			},
		),

		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterhub",
				Subsystem: "messages",
				Name:      "total",
				Help:      "Framed messages by decode status (ok, invalid)",
			},
			[]string{"status"},
		),

		SinkResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterhub",
				Subsystem: "sink",
				Name:      "results_total",
				Help:      "Sink invocations by outcome (ok, failed, panic)",
			},
			[]string{"sink", "status"},
		),

		SinkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meterhub",
				Subsystem: "sink",
				Name:      "duration_seconds",
				Help:      "Sink processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
	}

	m.registry.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.MessagesTotal,
		m.SinkResults,
		m.SinkDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// MessageDecoded counts a framed message; ok is false for decode failures.
func (m *Metrics) MessageDecoded(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "invalid"
	}
	m.MessagesTotal.WithLabelValues(status).Inc()
}

// SinkResult records one sink invocation.
func (m *Metrics) SinkResult(sink, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SinkResults.WithLabelValues(sink, status).Inc()
	m.SinkDuration.WithLabelValues(sink).Observe(elapsed.Seconds())
}
