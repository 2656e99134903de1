package twin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "twin",
		Name:      "documents_applied_total",
		Help:      "Desired documents applied, by kind",
	}, []string{"kind"})

	documentsStale = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "twin",
		Name:      "documents_stale_total",
		Help:      "Desired documents ignored because their version was not newer",
	})

	documentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "twin",
		Name:      "document_errors_total",
		Help:      "Desired documents rejected, by reason",
	}, []string{"reason"})

	reportsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "twin",
		Name:      "reports_published_total",
		Help:      "Reported-property patches published",
	})

	reportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "twin",
		Name:      "report_errors_total",
		Help:      "Reported-property patches not published, by stage",
	}, []string{"stage"})

	twinVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensornode",
		Subsystem: "twin",
		Name:      "version",
		Help:      "Desired document version last accepted",
	})
)
