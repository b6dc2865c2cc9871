// Package metrics exposes gateway counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/sensorgate/internal/validator"
)

// Metrics owns a dedicated registry so tests and multiple servers in one
// process never collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	submissions   *prometheus.CounterVec
	latency       prometheus.Histogram
	ledgerEntries prometheus.Gauge
	configTamper  prometheus.Counter
	rateLimited   prometheus.Counter
}

// New creates and registers the gateway metrics.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorgate_submissions_total",
			Help: "Decided submissions by outcome and deciding rule.",
		}, []string{"outcome", "reason"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorgate_validation_seconds",
			Help:    "Time spent deciding one submission.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		ledgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorgate_ledger_entries",
			Help: "Nonces held by the replay ledger.",
		}),
		configTamper: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensorgate_config_tamper_total",
			Help: "Config file changes whose hash differs from the one loaded at start.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensorgate_rate_limited_total",
			Help: "Requests refused by the rate limiter.",
		}),
	}

	m.reg.MustRegister(
		m.submissions,
		m.latency,
		m.ledgerEntries,
		m.configTamper,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSubmission implements validator.Observer.
func (m *Metrics) ObserveSubmission(code validator.Code, elapsed time.Duration) {
	outcome := "rejected"
	if code == validator.CodeAccepted {
		outcome = "accepted"
	}
	m.submissions.WithLabelValues(outcome, string(code)).Inc()
	m.latency.Observe(elapsed.Seconds())
}

// SetLedgerEntries records the current ledger size.
func (m *Metrics) SetLedgerEntries(n int) {
	m.ledgerEntries.Set(float64(n))
}

// ConfigTampered counts one detected config modification.
func (m *Metrics) ConfigTampered() {
	m.configTamper.Inc()
}

// RateLimited counts one refused request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

var _ validator.Observer = (*Metrics)(nil)
