package oracle

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "oracle",
		Name:      "decisions_total",
		Help:      "Routing decisions by source (oracle or fallback) and reasoning effort.",
	}, []string{"source", "effort"})

	decisionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payroute",
		Subsystem: "oracle",
		Name:      "latency_seconds",
		Help:      "Time to produce a routing decision.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"source"})

	completionTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "oracle",
		Name:      "tokens_total",
		Help:      "Tokens consumed by the reasoning backend.",
	}, []string{"oracle", "type"}) // type: prompt | completion
)

func init() {
	prometheus.MustRegister(decisionsTotal, decisionLatency, completionTokens)
}
