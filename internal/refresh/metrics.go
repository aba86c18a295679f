package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_refresh_cycles_total",
		Help: "Completed refresh cycles",
	})
	feedsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedhub_feeds_processed_total",
		Help: "Feed refresh outcomes by status",
	}, []string{"status"})
	entriesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_entries_added_total",
		Help: "New entries committed to the store",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedhub_refresh_cycle_duration_seconds",
		Help:    "Wall-clock duration of refresh cycles",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
