package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "node",
		Name:      "deliveries_total",
		Help:      "Inbound hub messages, by handler (dropped when the queue was full)",
	}, []string{"handler"})

	twinResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "node",
		Name:      "reported_responses_total",
		Help:      "Responses to reported-property patches, by status class",
	}, []string{"class"})

	resyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "node",
		Name:      "start_retries_total",
		Help:      "Retries of an incomplete subscribe or initial twin request",
	})
)
