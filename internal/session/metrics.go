package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var persistFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relaybot_session_persist_failures_total",
		Help: "Total number of session writes rejected by the store, by record kind.",
	},
	[]string{"kind"},
)
