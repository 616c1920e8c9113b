package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "catalog"

// Metrics holds the crawl collectors. Every method is safe on a nil receiver
// so tests can run without a registry.
type Metrics struct {
	// Registry also carries the API collectors when the server shares it.
	Registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	pages           *prometheus.CounterVec
	items           *prometheus.CounterVec
	retries         prometheus.Counter
	errors          *prometheus.CounterVec
	politenessWaits prometheus.Counter
}

// NewMetrics registers the crawl collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: "crawl", Name: name, Help: help}
	}

	return &Metrics{
		Registry: registry,
		requests: factory.NewCounterVec(opts("requests_total", "Page requests issued, by phase."), []string{"phase"}),
		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "crawl",
			Name:      "request_duration_seconds",
			Help:      "Latency of single page requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		pages:           factory.NewCounterVec(opts("pages_total", "Listing pages visited, by outcome."), []string{"outcome"}),
		items:           factory.NewCounterVec(opts("items_total", "Listing items seen, by result."), []string{"result"}),
		retries:         factory.NewCounter(opts("retries_total", "Page request retries scheduled.")),
		errors:          factory.NewCounterVec(opts("errors_total", "Failed page requests, by error type."), []string{"error_type"}),
		politenessWaits: factory.NewCounter(opts("politeness_waits_total", "Delays observed between page fetches.")),
	}
}

// IncRequest counts a request phase ("started" or "completed").
func (m *Metrics) IncRequest(phase string) {
	if m != nil {
		m.requests.WithLabelValues(phase).Inc()
	}
}

// ObserveDuration records the latency of one page request.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m != nil {
		m.requestDuration.Observe(d.Seconds())
	}
}

// IncPage counts a visited page by outcome ("ok" or "error").
func (m *Metrics) IncPage(outcome string) {
	if m != nil {
		m.pages.WithLabelValues(outcome).Inc()
	}
}

// AddItems records extracted and skipped listing items.
func (m *Metrics) AddItems(extracted, skipped int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues("extracted").Add(float64(extracted))
	m.items.WithLabelValues("skipped").Add(float64(skipped))
}

// IncRetries counts a scheduled retry.
func (m *Metrics) IncRetries() {
	if m != nil {
		m.retries.Inc()
	}
}

// IncError counts a failed request under its error_type label.
func (m *Metrics) IncError(errorType string) {
	if m != nil {
		m.errors.WithLabelValues(errorType).Inc()
	}
}

// IncPolitenessWait counts a delay taken between page fetches.
func (m *Metrics) IncPolitenessWait() {
	if m != nil {
		m.politenessWaits.Inc()
	}
}
