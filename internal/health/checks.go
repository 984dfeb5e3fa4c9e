package health

import (
	"context"
	"fmt"

	"github.com/mbd888/payroute/internal/circuitbreaker"
)

// Routable reports unhealthy when no processor can take traffic.
// count returns (routable, total).
func Routable(count func() (int, int)) Checker {
	return func(_ context.Context) Status {
		routable, total := count()
		return Status{
			Healthy: routable > 0,
			Detail:  fmt.Sprintf("%d of %d routable", routable, total),
		}
	}
}

// Breaker reports unhealthy while the circuit guarding backend is open. A
// half-open circuit is healthy: the next call is its trial call.
func Breaker(backend string, state func() circuitbreaker.State) Checker {
	return func(_ context.Context) Status {
		s := state()
		return Status{
			Healthy: s != circuitbreaker.StateOpen,
			Detail:  backend + ": circuit " + s.String(),
		}
	}
}

// Pinger reports the result of a connectivity check such as a Redis PING.
func Pinger(ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}
