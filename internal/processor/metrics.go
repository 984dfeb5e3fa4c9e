package processor

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "processor",
		Name:      "executions_total",
		Help:      "Payment executions by processor and status.",
	}, []string{"processor", "status"})

	executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payroute",
		Subsystem: "processor",
		Name:      "execution_duration_seconds",
		Help:      "Payment execution latency by processor.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"processor"})
)

func init() {
	prometheus.MustRegister(executionsTotal, executionDuration)
}
