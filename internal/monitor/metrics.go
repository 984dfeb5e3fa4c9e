package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "monitor",
		Name:      "checks_total",
		Help:      "Processor health checks by result (up or down).",
	}, []string{"processor", "result"})

	checkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payroute",
		Subsystem: "monitor",
		Name:      "check_latency_seconds",
		Help:      "Processor health check latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"processor"})
)

func init() {
	prometheus.MustRegister(checksTotal, checkLatency)
}
