package routing

import "github.com/prometheus/client_golang/prometheus"

var (
	routesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "routing",
		Name:      "routes_total",
		Help:      "Route calls by terminal status.",
	}, []string{"status"})

	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "routing",
		Name:      "attempts_total",
		Help:      "Execution attempts by processor and result.",
	}, []string{"processor", "result"})

	routeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payroute",
		Subsystem: "routing",
		Name:      "route_duration_seconds",
		Help:      "Wall time from first decision to terminal outcome.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(routesTotal, attemptsTotal, routeDuration)
}
