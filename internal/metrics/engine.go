package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync engine metrics. Incremented by the collector and export session loops.
var (
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recordsync",
			Name:      "pages_fetched_total",
			Help:      "Total anchored pages fetched from the record source.",
		},
		[]string{"collection"},
	)

	RecordsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recordsync",
			Name:      "records_collected_total",
			Help:      "Total records delivered downstream, by direction.",
		},
		[]string{"collection", "direction"}, // direction: added | deleted
	)

	AnchorSaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recordsync",
			Name:      "anchor_saves_total",
			Help:      "Total anchor persistence operations.",
		},
	)

	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recordsync",
			Name:      "batches_processed_total",
			Help:      "Export session batches handed to a processor, by outcome.",
		},
		[]string{"status"}, // status: ok | error | failed
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recordsync",
			Name:      "sessions_active",
			Help:      "Export sessions currently registered and not in a terminal state.",
		},
	)
)
