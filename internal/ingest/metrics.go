package ingest

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingest",
		Name:      "events_applied_total",
		Help:      "Change events merged into the store, by collection and kind.",
	}, []string{"collection", "kind"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingest",
		Name:      "events_dropped_total",
		Help:      "Change events discarded before reaching the store.",
	}, []string{"collection"})

	propagationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ingest",
		Name:      "propagation_seconds",
		Help:      "Observed latency between event emission and local merge.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"collection"})
)

func init() {
	prometheus.MustRegister(eventsApplied, eventsDropped, propagationLatency)
}
