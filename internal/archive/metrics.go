package archive

import "github.com/prometheus/client_golang/prometheus"

var (
	exportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archive",
		Name:      "exports_total",
		Help:      "Board exports written to object storage.",
	})

	exportLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "archive",
		Name:      "export_seconds",
		Help:      "Time spent uploading a board export.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(exportsTotal, exportLatency)
}
