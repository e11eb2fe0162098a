// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pageRequestsTotal          *prometheus.CounterVec
	itemsFetchedTotal          *prometheus.CounterVec
	pageDelaySeconds           prometheus.Histogram
	bulkOperationsTotal        *prometheus.CounterVec
	bulkRequestDuration        prometheus.Histogram
	runsTotal                  *prometheus.CounterVec
	targetFailuresTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pageRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_page_requests_total",
				Help: "Content source page requests, labeled by query kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		itemsFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_fetched_total",
				Help: "Raw content items accumulated by pagination runs, labeled by query kind.",
			},
			[]string{"kind"},
		)

		pageDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_page_delay_seconds",
				Help:    "Time spent waiting between successive pages of one target.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		bulkOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bulk_operations_total",
				Help: "Bulk upsert operations, labeled by target index and outcome.",
			},
			[]string{"index", "outcome"},
		)

		bulkRequestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_bulk_request_duration_seconds",
				Help:    "Round-trip latency of bulk requests.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_runs_total",
				Help: "Pipeline runs, labeled by mode and terminal status.",
			},
			[]string{"mode", "status"},
		)

		targetFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_target_failures_total",
				Help: "Crawl targets that failed or were truncated, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageRequest counts one page request. outcome is "ok", "empty" or "error".
func ObservePageRequest(kind string, outcome string) {
	Init()
	pageRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveItems adds fetched items for a query kind.
func ObserveItems(kind string, n int) {
	Init()
	if n > 0 {
		itemsFetchedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObservePageDelay records the pacing wait before a continuation page.
func ObservePageDelay(d time.Duration) {
	Init()
	pageDelaySeconds.Observe(d.Seconds())
}

// ObserveBulkOperation counts one bulk operation outcome for an index.
func ObserveBulkOperation(index string, ok bool) {
	Init()
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	bulkOperationsTotal.WithLabelValues(index, outcome).Inc()
}

// ObserveBulkRequest records the duration of one bulk round trip.
func ObserveBulkRequest(d time.Duration) {
	Init()
	bulkRequestDuration.Observe(d.Seconds())
}

// ObserveRun counts a finished pipeline run.
func ObserveRun(mode string, status string) {
	Init()
	runsTotal.WithLabelValues(mode, status).Inc()
}

// ObserveTargetFailure counts a failed or truncated crawl target.
func ObserveTargetFailure(reason string) {
	Init()
	targetFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
