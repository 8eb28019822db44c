package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ordex"

// Metrics is the prometheus-backed Recorder. All series live in a
// private registry so tests can run side by side without duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	locationsInFlight prometheus.Gauge
	locationsTotal    *prometheus.CounterVec
	locationDuration  *prometheus.HistogramVec

	llmRequestsTotal *prometheus.CounterVec
	llmErrorsTotal   *prometheus.CounterVec
	llmTokensTotal   *prometheus.CounterVec
	llmDuration      *prometheus.HistogramVec

	documentsTotal *prometheus.CounterVec

	searchesTotal   prometheus.Counter
	searchURLsTotal prometheus.Counter
}

// NewMetrics builds the full metric set on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		locationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locations_in_flight",
			Help:      "Locations currently being processed.",
		}),
		locationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_total",
			Help:      "Finished locations by outcome.",
		}, []string{"outcome"}),
		locationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "location_duration_seconds",
			Help:      "Wall time spent per location.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"outcome"}),

		llmRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Chat completion attempts by usage label.",
		}, []string{"label"}),
		llmErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Failed chat completion attempts by usage label.",
		}, []string{"label"}),
		llmTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens billed by usage label and direction.",
		}, []string{"label", "direction"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Chat completion latency by usage label.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"label"}),

		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Fetched documents by detected format.",
		}, []string{"format"}),

		searchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Completed search rounds.",
		}),
		searchURLsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_urls_total",
			Help:      "Candidate URLs produced by search rounds.",
		}),
	}

	m.registry.MustRegister(
		m.locationsInFlight,
		m.locationsTotal,
		m.locationDuration,
		m.llmRequestsTotal,
		m.llmErrorsTotal,
		m.llmTokensTotal,
		m.llmDuration,
		m.documentsTotal,
		m.searchesTotal,
		m.searchURLsTotal,
	)
	return m
}

func (m *Metrics) IncLocationsInFlight() {
	m.locationsInFlight.Inc()
}

func (m *Metrics) DecLocationsInFlight() {
	m.locationsInFlight.Dec()
}

func (m *Metrics) RecordLocation(outcome string, duration time.Duration) {
	m.locationsTotal.WithLabelValues(outcome).Inc()
	m.locationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordLLMCall(label string, duration time.Duration, promptTokens, responseTokens int, err error) {
	m.llmRequestsTotal.WithLabelValues(label).Inc()
	m.llmDuration.WithLabelValues(label).Observe(duration.Seconds())
	if err != nil {
		m.llmErrorsTotal.WithLabelValues(label).Inc()
		return
	}
	m.llmTokensTotal.WithLabelValues(label, "prompt").Add(float64(promptTokens))
	m.llmTokensTotal.WithLabelValues(label, "response").Add(float64(responseTokens))
}

func (m *Metrics) RecordDocuments(format string, n int) {
	if n <= 0 {
		return
	}
	m.documentsTotal.WithLabelValues(format).Add(float64(n))
}

func (m *Metrics) RecordSearch(urls int) {
	m.searchesTotal.Inc()
	if urls > 0 {
		m.searchURLsTotal.Add(float64(urls))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ Recorder = (*Metrics)(nil)
var _ Recorder = NoopRecorder{}
