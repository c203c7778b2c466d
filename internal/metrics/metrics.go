// Package metrics registers the worker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanworker_scans_total",
			Help: "Scan attempts by terminal status.",
		},
		[]string{"status"},
	)
	ScanFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanworker_scan_failures_total",
			Help: "Failed scan attempts by failure classification.",
		},
		[]string{"kind"},
	)
	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanworker_scan_duration_seconds",
			Help:    "Wall-clock duration of successful scan attempts.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
	IssuesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanworker_issues_found_total",
			Help: "Issues persisted, labeled by impact.",
		},
		[]string{"impact"},
	)
	BrowserHandlesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanworker_browser_handles_in_use",
			Help: "Browser handles currently leased from the pool.",
		},
	)
)

func init() {
	prometheus.MustRegister(ScansTotal)
	prometheus.MustRegister(ScanFailures)
	prometheus.MustRegister(ScanDuration)
	prometheus.MustRegister(IssuesFound)
	prometheus.MustRegister(BrowserHandlesInUse)
}

// Handler exposes the default registry for the ops server.
func Handler() http.Handler {
	return promhttp.Handler()
}
