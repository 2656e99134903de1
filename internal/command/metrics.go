package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sensornode",
	Subsystem: "command",
	Name:      "dispatched_total",
	Help:      "Commands dispatched, by name and response status",
}, []string{"name", "status"})
