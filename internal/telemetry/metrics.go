package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "telemetry",
		Name:      "samples_total",
		Help:      "Telemetry samples, by result",
	}, []string{"result"})

	lastTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensornode",
		Subsystem: "telemetry",
		Name:      "temperature_celsius",
		Help:      "Last sampled temperature",
	})

	lastLight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensornode",
		Subsystem: "telemetry",
		Name:      "light_raw",
		Help:      "Last sampled ambient light count",
	})
)
