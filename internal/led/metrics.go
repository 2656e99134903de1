package led

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "led",
		Name:      "transitions_total",
		Help:      "LED channel state transitions by channel and new state",
	}, []string{"channel", "state"})

	staleToggles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "led",
		Name:      "stale_toggles_total",
		Help:      "Blink toggles dropped because their timer had been replaced",
	})
)
