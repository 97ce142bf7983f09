// Package metrics exposes the scraper's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListingsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_processed_total",
			Help: "Total number of listing units processed.",
		},
		[]string{"outcome"}, // saved, duplicate, scrape_failed, save_failed, invalid
	)

	BrowserSessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_sessions_open",
			Help: "Current number of open browser sessions.",
		},
	)

	ScrapeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_runs_total",
			Help: "Total number of scrape runs.",
		},
		[]string{"status"}, // success, failure
	)

	ScrapeRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrape_run_duration_seconds",
			Help:    "Duration of complete scrape runs.",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400},
		},
	)

	LinksDiscovered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listing_links_discovered",
			Help: "Number of unique listing links found by the last discovery.",
		},
	)

	FieldExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "field_extractions_total",
			Help: "Total number of field lookups by result.",
		},
		[]string{"status"}, // present, absent, failed
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Total number of outbox events handled by the relay.",
		},
		[]string{"result"}, // published, failed, dead_letter
	)
)
