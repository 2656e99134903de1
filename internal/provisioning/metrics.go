package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	phaseGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensornode",
		Subsystem: "provisioning",
		Name:      "phase",
		Help:      "Current controller phase (0 idle .. 5 failed)",
	})

	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "provisioning",
		Name:      "connect_attempts_total",
		Help:      "Connect steps run, by result",
	}, []string{"result"})

	statusPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "provisioning",
		Name:      "status_polls_total",
		Help:      "Operation status polls published, by result",
	}, []string{"result"})

	responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "provisioning",
		Name:      "responses_total",
		Help:      "Service responses received, by registration status",
	}, []string{"status"})
)
