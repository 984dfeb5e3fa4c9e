package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/mbd888/payroute/internal/syncutil"
)

// Defaults for the health state machine.
const (
	DefaultDegradedThreshold  = 0.95
	DefaultRestoreSuccessRate = 0.98
	DefaultRestoreFreezeRisk  = 1.0
	DefaultCheckWindow        = 50

	successDecay     = 0.95
	latencyWeightOld = 0.8
	freezeRiskUp     = 0.5
	freezeRiskDown   = 0.1
	maxFreezeRisk    = 10.0
)

// Option configures a Registry.
type Option func(*Registry)

// WithDegradedThreshold sets the success rate under which a healthy
// processor is marked degraded, and at or above which it recovers.
func WithDegradedThreshold(v float64) Option {
	return func(r *Registry) {
		if v > 0 && v <= 1 {
			r.degradedThreshold = v
		}
	}
}

// WithRestoreBaseline sets the success rate floor and freeze risk applied
// by Restore.
func WithRestoreBaseline(successRate, freezeRisk float64) Option {
	return func(r *Registry) {
		r.restoreSuccessRate = successRate
		r.restoreFreezeRisk = freezeRisk
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger used for status transitions.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

type entry struct {
	rec            ProcessorRecord
	preMaintenance Status
	checks         []bool
}

// Registry is the live, concurrency-safe processor health table.
// The processor set is guarded by mu; each processor's state is serialized
// by a sharded lock keyed on its id.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]*entry
	order []string

	locks syncutil.ShardedMutex

	listenersMu sync.RWMutex
	listeners   []func(Transition)

	degradedThreshold  float64
	restoreSuccessRate float64
	restoreFreezeRisk  float64
	checkWindow        int
	now                func() time.Time
	logger             *slog.Logger
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		procs:              make(map[string]*entry),
		degradedThreshold:  DefaultDegradedThreshold,
		restoreSuccessRate: DefaultRestoreSuccessRate,
		restoreFreezeRisk:  DefaultRestoreFreezeRisk,
		checkWindow:        DefaultCheckWindow,
		now:                time.Now,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a processor. Registration order is preserved.
func (r *Registry) Register(rec ProcessorRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = StatusHealthy
	}
	if rec.Metrics.UptimePercentage == 0 {
		rec.Metrics.UptimePercentage = 100
	}
	rec.UpdatedAt = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrProcessorExists, rec.ID)
	}
	r.procs[rec.ID] = &entry{rec: rec.clone()}
	r.order = append(r.order, rec.ID)
	observeRecord(rec)
	return nil
}

// OnTransition registers a listener called after every status change.
// Listeners run synchronously, outside the registry's locks.
func (r *Registry) OnTransition(fn func(Transition)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Snapshot returns a copy of every record. Each record is copied under its
// own lock so it is never observed half-updated.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Records: make(map[string]ProcessorRecord, len(r.procs)),
		Order:   append([]string(nil), r.order...),
		TakenAt: r.now(),
	}
	for _, id := range r.order {
		e := r.procs[id]
		unlock := r.locks.Lock(id)
		snap.Records[id] = e.rec.clone()
		unlock()
	}
	return snap
}

// Get returns a copy of one record.
func (r *Registry) Get(id string) (ProcessorRecord, error) {
	e, ok := r.lookup(id)
	if !ok {
		return ProcessorRecord{}, fmt.Errorf("%w: %s", ErrProcessorNotFound, id)
	}
	unlock := r.locks.Lock(id)
	defer unlock()
	return e.rec.clone(), nil
}

// List returns copies of all records in registration order.
func (r *Registry) List() []ProcessorRecord {
	return r.Snapshot().List()
}

// FallbackChain returns the ordered routable processors not in excluding.
func (r *Registry) FallbackChain(excluding map[string]struct{}) []string {
	return r.Snapshot().Chain(excluding)
}

// -----------------------------------------------------------------------------
// Execution feedback
// -----------------------------------------------------------------------------

// RecordFailure applies a failed execution. A permanent failure or an
// account-frozen failure freezes the processor. It returns false for an
// unknown id.
func (r *Registry) RecordFailure(id string, kind FailureKind, permanent bool) bool {
	reason := "failure:" + string(kind)
	return r.update(id, reason, func(e *entry, now time.Time) {
		m := &e.rec.Metrics
		m.FailureCount24h++
		m.ConsecutiveFailures++
		m.LastFailureAt = &now
		m.SuccessRate *= successDecay
		m.FreezeRiskScore = math.Min(maxFreezeRisk, m.FreezeRiskScore+freezeRiskUp)

		if permanent || kind == FailureAccountFrozen {
			m.FreezeRiskScore = maxFreezeRisk
			if e.rec.Status == StatusMaintenance {
				e.preMaintenance = StatusFrozen
			} else {
				e.rec.Status = StatusFrozen
			}
			return
		}
		r.applyThreshold(e)
	})
}

// RecordSuccess applies a successful execution with its observed latency.
// It never changes a frozen or maintenance status.
func (r *Registry) RecordSuccess(id string, latency time.Duration) bool {
	return r.update(id, "success", func(e *entry, now time.Time) {
		m := &e.rec.Metrics
		m.ConsecutiveFailures = 0
		m.LastSuccessAt = &now
		m.SuccessRate = math.Min(1, m.SuccessRate*successDecay+(1-successDecay))
		m.AvgResponseTimeMs = ewmaLatency(m.AvgResponseTimeMs, latency)
		m.FreezeRiskScore = math.Max(0, m.FreezeRiskScore-freezeRiskDown)
		r.applyThreshold(e)
	})
}

// ApplyCheck applies the result of an out-of-band health check.
func (r *Registry) ApplyCheck(id string, healthy bool, latency time.Duration) bool {
	reason := "check:down"
	if healthy {
		reason = "check:up"
	}
	return r.update(id, reason, func(e *entry, now time.Time) {
		m := &e.rec.Metrics
		e.checks = append(e.checks, healthy)
		if len(e.checks) > r.checkWindow {
			e.checks = e.checks[len(e.checks)-r.checkWindow:]
		}
		up := 0
		for _, ok := range e.checks {
			if ok {
				up++
			}
		}
		m.UptimePercentage = 100 * float64(up) / float64(len(e.checks))

		if healthy {
			m.SuccessRate = math.Min(1, m.SuccessRate*successDecay+(1-successDecay))
			m.AvgResponseTimeMs = ewmaLatency(m.AvgResponseTimeMs, latency)
			m.FreezeRiskScore = math.Max(0, m.FreezeRiskScore-freezeRiskDown)
		} else {
			m.SuccessRate *= successDecay
			m.FailureCount24h++
			m.LastFailureAt = &now
			m.FreezeRiskScore = math.Min(maxFreezeRisk, m.FreezeRiskScore+freezeRiskUp)
		}
		r.applyThreshold(e)
	})
}

// DecayFailureCounts clears the 24h failure counter of processors whose
// last failure is older than a day. It returns how many were cleared.
func (r *Registry) DecayFailureCounts() int {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	cleared := 0
	for _, id := range ids {
		r.update(id, "decay", func(e *entry, now time.Time) {
			m := &e.rec.Metrics
			if m.FailureCount24h > 0 && m.LastFailureAt != nil && now.Sub(*m.LastFailureAt) > 24*time.Hour {
				m.FailureCount24h = 0
				cleared++
			}
		})
	}
	return cleared
}

// -----------------------------------------------------------------------------
// Operator actions
// -----------------------------------------------------------------------------

// Freeze marks a processor frozen, e.g. on a compliance hold.
func (r *Registry) Freeze(id string) error {
	return r.operator(id, "operator:freeze", func(e *entry) {
		e.rec.Status = StatusFrozen
		e.rec.Metrics.FreezeRiskScore = maxFreezeRisk
		e.preMaintenance = ""
	})
}

// Restore returns a processor to healthy with baseline metrics. It is the
// only way out of frozen.
func (r *Registry) Restore(id string) error {
	return r.operator(id, "operator:restore", func(e *entry) {
		m := &e.rec.Metrics
		e.rec.Status = StatusHealthy
		e.preMaintenance = ""
		m.SuccessRate = math.Max(m.SuccessRate, r.restoreSuccessRate)
		m.FreezeRiskScore = r.restoreFreezeRisk
		m.ConsecutiveFailures = 0
	})
}

// SetMaintenance puts a processor into or out of maintenance. Leaving
// maintenance returns a previously frozen processor to frozen, otherwise
// to healthy or degraded by success rate.
func (r *Registry) SetMaintenance(id string, on bool) error {
	reason := "operator:maintenance_off"
	if on {
		reason = "operator:maintenance_on"
	}
	return r.operator(id, reason, func(e *entry) {
		if on {
			if e.rec.Status != StatusMaintenance {
				e.preMaintenance = e.rec.Status
				e.rec.Status = StatusMaintenance
			}
			return
		}
		if e.rec.Status != StatusMaintenance {
			return
		}
		if e.preMaintenance == StatusFrozen {
			e.rec.Status = StatusFrozen
		} else if e.rec.Metrics.SuccessRate >= r.degradedThreshold {
			e.rec.Status = StatusHealthy
		} else {
			e.rec.Status = StatusDegraded
		}
		e.preMaintenance = ""
	})
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (r *Registry) operator(id, reason string, fn func(e *entry)) error {
	if !r.update(id, reason, func(e *entry, _ time.Time) { fn(e) }) {
		return fmt.Errorf("%w: %s", ErrProcessorNotFound, id)
	}
	return nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.procs[id]
	return e, ok
}

// update runs fn under the processor's lock, then publishes metrics and
// any status transition.
func (r *Registry) update(id, reason string, fn func(e *entry, now time.Time)) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}

	unlock := r.locks.Lock(id)
	now := r.now()
	from := e.rec.Status
	fn(e, now)
	e.rec.UpdatedAt = now
	rec := e.rec.clone()
	unlock()

	observeRecord(rec)
	if from != rec.Status {
		r.emit(Transition{ProcessorID: id, From: from, To: rec.Status, Reason: reason, At: now})
	}
	return true
}

// applyThreshold moves between healthy and degraded. Frozen and
// maintenance are left alone.
func (r *Registry) applyThreshold(e *entry) {
	switch e.rec.Status {
	case StatusHealthy:
		if e.rec.Metrics.SuccessRate < r.degradedThreshold {
			e.rec.Status = StatusDegraded
		}
	case StatusDegraded:
		if e.rec.Metrics.SuccessRate >= r.degradedThreshold {
			e.rec.Status = StatusHealthy
		}
	}
}

func (r *Registry) emit(t Transition) {
	statusTransitions.WithLabelValues(t.ProcessorID, string(t.From), string(t.To)).Inc()

	level := slog.LevelInfo
	if t.To == StatusFrozen || t.To == StatusDegraded {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "processor status changed",
		"processor", t.ProcessorID,
		"from", t.From,
		"to", t.To,
		"reason", t.Reason,
	)

	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(t)
	}
}

func ewmaLatency(avg float64, latency time.Duration) float64 {
	ms := float64(latency) / float64(time.Millisecond)
	if ms <= 0 {
		return avg
	}
	if avg <= 0 {
		return ms
	}
	return latencyWeightOld*avg + (1-latencyWeightOld)*ms
}
