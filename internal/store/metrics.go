package store

import "github.com/prometheus/client_golang/prometheus"

var (
	ideasResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "store",
		Name:      "ideas_resident",
		Help:      "Ideas currently mirrored in the entity store.",
	})

	commentsResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "store",
		Name:      "comments_resident",
		Help:      "Comments currently mirrored in the entity store.",
	})

	mutationsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "store",
		Name:      "mutations_total",
		Help:      "Store mutations applied, by collection and change type.",
	}, []string{"collection", "change"})
)

func init() {
	prometheus.MustRegister(ideasResident, commentsResident, mutationsApplied)
}
