package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	consumerConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "consumers",
		Help:      "Active websocket feed consumers per collection.",
	}, []string{"collection"})

	eventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "events_relayed_total",
		Help:      "Change event deliveries fanned out to consumers.",
	}, []string{"collection"})

	sendDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "consumer_drops_total",
		Help:      "Consumers dropped because their send buffer overflowed.",
	})
)

func init() {
	prometheus.MustRegister(consumerConnections, eventsRelayed, sendDrops)
}
