// Package metrics provides Prometheus metrics for the metadata service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the service
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Search metrics
	SearchesTotal      *prometheus.CounterVec
	SearchDuration     prometheus.Histogram
	CacheLookupsTotal  *prometheus.CounterVec
	CacheErrorsTotal   *prometheus.CounterVec
	CacheEntriesPurged prometheus.Counter

	// Metadata metrics
	MutationsTotal        *prometheus.CounterVec
	ExtractionsTotal      *prometheus.CounterVec
	RepositoryErrorsTotal *prometheus.CounterVec
}

// New creates all metrics and registers them on reg. A nil reg leaves them
// unregistered, which keeps tests independent of each other.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemeta_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagemeta_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.SearchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemeta_searches_total",
			Help: "Total number of searches by outcome",
		},
		[]string{"status"},
	)

	m.SearchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagemeta_search_duration_seconds",
			Help:    "Duration of searches in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	m.CacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemeta_cache_lookups_total",
			Help: "Search cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	m.CacheErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemeta_cache_errors_total",
			Help: "Search cache backend failures by operation",
		},
		[]string{"operation"},
	)

	m.CacheEntriesPurged = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "imagemeta_cache_entries_purged_total",
			Help: "Expired in-memory cache entries removed by the janitor",
		},
	)

	m.MutationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemeta_mutations_total",
			Help: "Metadata mutations by change type and outcome",
		},
		[]string{"change_type", "status"},
	)

	m.ExtractionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemeta_extractions_total",
			Help: "Metadata extractions by outcome",
		},
		[]string{"result"},
	)

	m.RepositoryErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagemeta_repository_errors_total",
			Help: "Repository failures by operation",
		},
		[]string{"operation"},
	)

	return m
}

// RecordHTTPRequest records one handled request
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordSearch records a finished search
func (m *Metrics) RecordSearch(status string, duration time.Duration) {
	m.SearchesTotal.WithLabelValues(status).Inc()
	m.SearchDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss for kind
func (m *Metrics) RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordCacheError records a failed cache operation
func (m *Metrics) RecordCacheError(operation string) {
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordMutation records an edit, strip, restore or initial write
func (m *Metrics) RecordMutation(changeType, status string) {
	m.MutationsTotal.WithLabelValues(changeType, status).Inc()
}

// RecordExtraction records whether an extraction was degraded
func (m *Metrics) RecordExtraction(degraded bool) {
	result := "ok"
	if degraded {
		result = "degraded"
	}
	m.ExtractionsTotal.WithLabelValues(result).Inc()
}

// RecordRepositoryError records a failed repository call
func (m *Metrics) RecordRepositoryError(operation string) {
	m.RepositoryErrorsTotal.WithLabelValues(operation).Inc()
}
