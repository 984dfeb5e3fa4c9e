package audit

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "audit",
		Name:      "events_total",
		Help:      "Audit events appended by kind.",
	}, []string{"kind"})

	writeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "audit",
		Name:      "write_errors_total",
		Help:      "Audit events that could not be stored, by reason.",
	}, []string{"reason"}) // "invalid", "store"

	sinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "audit",
		Name:      "sink_errors_total",
		Help:      "Failed sink publishes by sink.",
	}, []string{"sink"})

	sinkDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "audit",
		Name:      "sink_dropped_total",
		Help:      "Events dropped because a sink queue was full, by sink.",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(eventsTotal, writeErrors, sinkErrors, sinkDropped)
}
