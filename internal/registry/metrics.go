package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	statusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payroute",
		Subsystem: "registry",
		Name:      "status_transitions_total",
		Help:      "Processor status transitions by processor, from-status and to-status.",
	}, []string{"processor", "from", "to"})

	processorSuccessRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payroute",
		Subsystem: "registry",
		Name:      "processor_success_rate",
		Help:      "Rolling success rate per processor (0-1).",
	}, []string{"processor"})

	processorFreezeRisk = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payroute",
		Subsystem: "registry",
		Name:      "processor_freeze_risk",
		Help:      "Freeze risk score per processor (0-10).",
	}, []string{"processor"})

	processorLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payroute",
		Subsystem: "registry",
		Name:      "processor_avg_response_ms",
		Help:      "Smoothed response time per processor in milliseconds.",
	}, []string{"processor"})

	processorStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payroute",
		Subsystem: "registry",
		Name:      "processor_status",
		Help:      "1 for the processor's current status, 0 otherwise.",
	}, []string{"processor", "status"})
)

func init() {
	prometheus.MustRegister(
		statusTransitions,
		processorSuccessRate,
		processorFreezeRisk,
		processorLatency,
		processorStatus,
	)
}

var allStatuses = []Status{StatusHealthy, StatusDegraded, StatusFrozen, StatusMaintenance}

func observeRecord(rec ProcessorRecord) {
	processorSuccessRate.WithLabelValues(rec.ID).Set(rec.Metrics.SuccessRate)
	processorFreezeRisk.WithLabelValues(rec.ID).Set(rec.Metrics.FreezeRiskScore)
	processorLatency.WithLabelValues(rec.ID).Set(rec.Metrics.AvgResponseTimeMs)
	for _, s := range allStatuses {
		v := 0.0
		if rec.Status == s {
			v = 1
		}
		processorStatus.WithLabelValues(rec.ID, string(s)).Set(v)
	}
}
