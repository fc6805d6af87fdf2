// Package metrics defines the Prometheus instruments exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReportsIngestedTotal counts submission outcomes by result label
	// (accepted, persistence_error).
	ReportsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civic311",
		Name:      "reports_ingested_total",
		Help:      "Report submissions by outcome.",
	}, []string{"result"})

	// ClassifierFallbackTotal counts submissions where the classifier
	// failed or returned no confident label.
	ClassifierFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "civic311",
		Name:      "classifier_fallback_total",
		Help:      "Submissions that fell back to the unclassified label.",
	})

	// GeocoderFallbackTotal counts submissions stored with the fallback
	// address because reverse geocoding failed.
	GeocoderFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "civic311",
		Name:      "geocoder_fallback_total",
		Help:      "Submissions stored with the fallback address.",
	})

	// ScrapeRunsTotal counts sync job runs by result label
	// (ok, handshake_error, fetch_error, commit_error).
	ScrapeRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civic311",
		Name:      "scrape_runs_total",
		Help:      "Feed sync runs by outcome.",
	}, []string{"result"})

	// ScrapedRecordsTotal counts per-record sync outcomes
	// (added, skipped_existing, skipped_bad_date).
	ScrapedRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civic311",
		Name:      "scraped_records_total",
		Help:      "Feed records by per-record outcome.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ReportsIngestedTotal,
		ClassifierFallbackTotal,
		GeocoderFallbackTotal,
		ScrapeRunsTotal,
		ScrapedRecordsTotal,
	)
}
