// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "home_library_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "home_library_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Query pipeline metrics
var (
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "home_library_pipeline_runs_total",
			Help: "Total number of query pipeline runs",
		},
		[]string{"operation", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "home_library_pipeline_duration_seconds",
			Help:    "Query pipeline duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	PipelineRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "home_library_pipeline_rows",
			Help:    "Rows considered by a query pipeline run before pagination",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"operation"},
	)

	UnknownSortSelectors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "home_library_unknown_sort_selectors_total",
			Help: "Sort requests naming a selector that is not supported",
		},
	)
)

// Library scan metrics
var (
	LibraryScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "home_library_scans_total",
			Help: "Total number of library scans",
		},
		[]string{"library", "status"},
	)

	LibraryItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "home_library_items",
			Help: "Number of items in the latest library snapshot",
		},
		[]string{"library"},
	)

	LibraryLastScanDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "home_library_last_scan_duration_seconds",
			Help: "Duration of the last library scan in seconds",
		},
		[]string{"library"},
	)
)

// ObservePipeline records one pipeline run.
func ObservePipeline(operation string, start time.Time, rows int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	PipelineRunsTotal.WithLabelValues(operation, status).Inc()
	PipelineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		PipelineRows.WithLabelValues(operation).Observe(float64(rows))
	}
}

// ObserveScan records one library scan.
func ObserveScan(library string, start time.Time, items int, err error) {
	if err != nil {
		LibraryScansTotal.WithLabelValues(library, "error").Inc()
		return
	}
	LibraryScansTotal.WithLabelValues(library, "ok").Inc()
	LibraryItems.WithLabelValues(library).Set(float64(items))
	LibraryLastScanDuration.WithLabelValues(library).Set(time.Since(start).Seconds())
}
