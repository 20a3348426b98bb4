// Package metrics exposes Prometheus collectors for fetch and chapter
// activity. Each Metrics value owns its registry so engines built in tests
// never collide on the default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	fetches    *prometheus.CounterVec
	fetchBytes *prometheus.CounterVec
	retries    *prometheus.CounterVec
	inFlight   *prometheus.GaugeVec
	gateWait   *prometheus.HistogramVec
	chapters   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveld_fetch_requests_total",
			Help: "Fetch completions partitioned by host and outcome.",
		}, []string{"host", "outcome"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveld_fetch_bytes_total",
			Help: "Decoded bytes fetched per host.",
		}, []string{"host"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveld_fetch_retries_total",
			Help: "Retries scheduled after transient failures, per host.",
		}, []string{"host"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noveld_fetch_in_flight",
			Help: "Requests currently admitted by the host gate.",
		}, []string{"host"}),
		gateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noveld_gate_wait_seconds",
			Help:    "Politeness delay imposed before a request was admitted.",
			Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"host"}),
		chapters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveld_chapters_total",
			Help: "Chapter job results partitioned by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.fetches, m.fetchBytes, m.retries, m.inFlight, m.gateWait, m.chapters)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(host, outcome string, bytes int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(host, outcome).Inc()
	if bytes > 0 {
		m.fetchBytes.WithLabelValues(host).Add(float64(bytes))
	}
}

func (m *Metrics) ObserveRetry(host string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(host).Inc()
}

func (m *Metrics) Admitted(host string, waited time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(host).Inc()
	m.gateWait.WithLabelValues(host).Observe(waited.Seconds())
}

func (m *Metrics) Released(host string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(host).Dec()
}

func (m *Metrics) ObserveChapter(outcome string) {
	if m == nil {
		return
	}
	m.chapters.WithLabelValues(outcome).Inc()
}
