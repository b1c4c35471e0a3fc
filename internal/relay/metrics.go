package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_relay_events_total",
			Help: "Handled conversation events by kind.",
		},
		[]string{"kind"},
	)

	broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaybot_broadcasts_total",
		Help: "Completed broadcasts.",
	})

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_broadcast_deliveries_total",
			Help: "Broadcast recipients by outcome.",
		},
		[]string{"outcome"},
	)

	broadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relaybot_broadcast_duration_seconds",
		Help:    "Wall time of a whole broadcast.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
