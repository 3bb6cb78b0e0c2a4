package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "kos"

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	changes         *prometheus.CounterVec
	loadedQuads     prometheus.Counter
	loadedFiles     *prometheus.CounterVec
	searchHits      prometheus.Histogram
}

// NewMetrics creates the collectors on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, including streaming of the body.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "changes_total",
			Help:      "Committed dataset mutations by kind.",
		}, []string{"kind"}),
		loadedQuads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bulk_load",
			Name:      "quads_total",
			Help:      "Quads written by the startup bulk loader.",
		}),
		loadedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bulk_load",
			Name:      "files_total",
			Help:      "Files processed by the startup bulk loader, by outcome.",
		}, []string{"outcome"}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "search",
			Name:      "matches",
			Help:      "Total index matches per search request.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version"})
	buildInfo.WithLabelValues(version).Set(1)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		m.requests,
		m.requestDuration,
		m.changes,
		m.loadedQuads,
		m.loadedFiles,
		m.searchHits,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveChange counts one committed dataset mutation.
func (m *Metrics) ObserveChange(kind string) {
	m.changes.WithLabelValues(kind).Inc()
}

// ObserveBulkLoad records the outcome of one bulk-loaded file.
func (m *Metrics) ObserveBulkLoad(quads int64, failed bool) {
	m.loadedQuads.Add(float64(quads))
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.loadedFiles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeSearch(total uint64) {
	m.searchHits.Observe(float64(total))
}
