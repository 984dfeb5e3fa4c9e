// Package health aggregates named subsystem checks behind the /health
// endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 2 * time.Second

// Status is the result of one check. Name is always the name the check
// was registered under.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Checker inspects one subsystem.
type Checker func(ctx context.Context) Status

type check struct {
	name     string
	optional bool
	fn       Checker
}

// Registry runs the registered checks concurrently, in registration order
// for reporting.
type Registry struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultCheckTimeout}
}

// SetTimeout changes the per-check timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Register adds a check whose failure makes the service unhealthy.
func (r *Registry) Register(name string, fn Checker) {
	r.add(check{name: name, fn: fn})
}

// RegisterOptional adds a check that is reported but never fails the
// aggregate, for side channels such as the audit publisher.
func (r *Registry) RegisterOptional(name string, fn Checker) {
	r.add(check{name: name, optional: true, fn: fn})
}

func (r *Registry) add(c check) {
	r.mu.Lock()
	r.checks = append(r.checks, c)
	r.mu.Unlock()
}

// CheckAll runs every check and reports whether all required ones passed.
// A check that outlives the per-check timeout is reported unhealthy.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checks := append([]check{}, r.checks...)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses := make([]Status, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			statuses[i] = run(ctx, c, timeout)
		}(i, c)
	}
	wg.Wait()

	healthy := true
	for _, s := range statuses {
		if !s.Healthy && !s.Optional {
			healthy = false
		}
	}
	return healthy, statuses
}

func run(ctx context.Context, c check, timeout time.Duration) Status {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() { done <- c.fn(ctx) }()

	var s Status
	select {
	case s = <-done:
	case <-ctx.Done():
		s = Status{Healthy: false, Detail: "check timed out"}
	}
	s.Name = c.name
	s.Optional = c.optional
	return s
}
