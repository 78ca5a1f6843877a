package pg

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	crudLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backend",
		Name:      "crud_seconds",
		Help:      "Latency of backend CRUD calls, retries included.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"op"})

	publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backend",
		Name:      "publish_failures_total",
		Help:      "Change events that could not be published to Redis.",
	}, []string{"collection"})
)

var tracer = otel.Tracer("github.com/example/ideaboard/backend/pg")

func init() {
	prometheus.MustRegister(crudLatency, publishFailures)
}
