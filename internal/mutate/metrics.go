package mutate

import "github.com/prometheus/client_golang/prometheus"

var (
	mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mutate",
		Name:      "operations_total",
		Help:      "User mutations by kind and outcome.",
	}, []string{"kind", "outcome"})

	confirmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mutate",
		Name:      "confirm_seconds",
		Help:      "Time between the optimistic apply and the remote call settling.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"kind"})
)

const (
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeRejected   = "rejected"
	outcomeNoop       = "noop"
)

func init() {
	prometheus.MustRegister(mutations, confirmLatency)
}
