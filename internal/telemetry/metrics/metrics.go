// Package metrics holds the Prometheus collectors for the query API and the ingest job.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest item outcomes.
const (
	OutcomeInserted        = "inserted"
	OutcomeExtractFailed   = "extract_failed"
	OutcomeNormalizeFailed = "normalize_failed"
	OutcomeInsertFailed    = "insert_failed"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	ingestItems  *prometheus.CounterVec
	ingestRuns   *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
}

// New builds a Metrics on a private registry that also carries Go and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulseboard",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pulseboard",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	m.ingestItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulseboard",
		Name:      "ingest_items_total",
		Help:      "Items seen by the ingest pipeline by source and outcome",
	}, []string{"source", "outcome"})
	m.ingestRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulseboard",
		Name:      "ingest_runs_total",
		Help:      "Source fetches by source and result (ok, unavailable)",
	}, []string{"source", "result"})
	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pulseboard",
		Name:      "ingest_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last fetch that reached the source",
	}, []string{"source"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.ingestItems, m.ingestRuns, m.lastSuccess,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
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

// ObserveHTTP records one finished request. route is the router pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// AddIngestItems adds n items with the given outcome.
func (m *Metrics) AddIngestItems(source, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestItems.WithLabelValues(source, outcome).Add(float64(n))
}

// ObserveFetch records whether a source could be reached.
func (m *Metrics) ObserveFetch(source string, ok bool, at time.Time) {
	if m == nil {
		return
	}
	if !ok {
		m.ingestRuns.WithLabelValues(source, "unavailable").Inc()
		return
	}
	m.ingestRuns.WithLabelValues(source, "ok").Inc()
	m.lastSuccess.WithLabelValues(source).Set(float64(at.Unix()))
}
