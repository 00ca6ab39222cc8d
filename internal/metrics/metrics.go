// Package metrics declares the Prometheus instruments exported by the indexer.
//
// All metrics are registered on the default registry via promauto; mount
// promhttp.Handler() to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics
var (
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notidx_ticks_total",
			Help: "Scheduler ticks by result (completed, interrupted, idle, skipped, busy)",
		},
		[]string{"result"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notidx_tick_duration_seconds",
			Help:    "Wall time spent in a single scheduler tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notidx_items_processed_total",
			Help: "Notes and resources taken through extraction",
		},
		[]string{"kind"},
	)

	PendingItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notidx_pending_items",
			Help: "Items with the index-needed flag set at the start of the last tick",
		},
		[]string{"kind"},
	)
)

// Extraction metrics
var (
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notidx_extractions_total",
			Help: "Extractor invocations by extractor and outcome (record, empty, skipped, malformed)",
		},
		[]string{"extractor", "outcome"},
	)

	OfficeAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notidx_office_available",
			Help: "Office converter capability: -1 unavailable, 0 unknown, 1 available",
		},
	)
)

// Flush metrics
var (
	FlushRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notidx_flush_records_total",
			Help: "Records handled by flush, by status (written, failed)",
		},
		[]string{"status"},
	)

	FlushFlagsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notidx_flush_flags_cleared_total",
			Help: "Index-needed flags cleared by flush",
		},
	)

	FlushCommits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notidx_flush_commits_total",
			Help: "Transactions committed by flush",
		},
	)
)
