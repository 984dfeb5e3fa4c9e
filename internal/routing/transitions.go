package routing

import (
	"context"

	"github.com/mbd888/payroute/internal/audit"
	"github.com/mbd888/payroute/internal/registry"
)

// RecoveryListener returns a registry transition listener that records a
// processor_recovery event whenever a processor becomes routable again or
// moves from degraded back to healthy. Success-driven recoveries are
// recorded by Route with the payment id, so they are skipped here.
func RecoveryListener(a Auditor) func(registry.Transition) {
	return func(t registry.Transition) {
		if t.Reason == "success" || !isRecovery(t.From, t.To) {
			return
		}
		a.Append(context.Background(), audit.RecoveryEvent("", audit.Recovery{
			ProcessorID: t.ProcessorID,
			From:        string(t.From),
			To:          string(t.To),
			Reason:      t.Reason,
		}))
	}
}

func isRecovery(from, to registry.Status) bool {
	if !to.Routable() {
		return false
	}
	return !from.Routable() || (from == registry.StatusDegraded && to == registry.StatusHealthy)
}
