// Package monitor checks processors in the background and feeds the
// results into the registry.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/processor"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultCheckTimeout = 5 * time.Second
	decayInterval       = time.Hour
)

// Registry is the part of the processor registry the monitor updates.
type Registry interface {
	ApplyCheck(id string, healthy bool, latency time.Duration) bool
	DecayFailureCounts() int
}

// Checkers lists the executors that support health checks.
// *processor.Set implements it.
type Checkers interface {
	Checkers() map[string]processor.Checker
}

// Monitor periodically checks every processor and decays stale 24h
// failure counters.
type Monitor struct {
	registry     Registry
	checkers     Checkers
	interval     time.Duration
	checkTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	stop         chan struct{}
	stopOnce     sync.Once
	running      atomic.Bool
	lastDecayAt  time.Time
}

// New creates a monitor. interval <= 0 means 30s.
func New(reg Registry, checkers Checkers, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		registry:     reg,
		checkers:     checkers,
		interval:     interval,
		checkTimeout: min(DefaultCheckTimeout, interval),
		logger:       logging.OrDefault(logger),
		now:          time.Now,
		stop:         make(chan struct{}),
	}
}

// Running reports whether the check loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Start runs the check loop until ctx ends or Stop is called. Call in a
// goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.running.Store(true)
	defer m.running.Store(false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.safeTick(ctx)
		}
	}
}

// Stop ends the loop. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in health monitor", "panic", fmt.Sprint(r))
		}
	}()
	m.CheckOnce(ctx)
	if now := m.now(); now.Sub(m.lastDecayAt) >= decayInterval {
		m.lastDecayAt = now
		if n := m.registry.DecayFailureCounts(); n > 0 {
			m.logger.Info("reset stale failure counters", "processors", n)
		}
	}
}

// CheckOnce checks every processor concurrently and applies the results.
// It returns the number of unhealthy processors.
func (m *Monitor) CheckOnce(ctx context.Context) int {
	checkers := m.checkers.Checkers()

	var (
		wg        sync.WaitGroup
		unhealthy atomic.Int32
	)
	for id, p := range checkers {
		wg.Add(1)
		go func(id string, p processor.Checker) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
			defer cancel()

			start := m.now()
			h := p.Check(pctx)
			if h.Latency <= 0 {
				h.Latency = m.now().Sub(start)
			}

			result := "up"
			if !h.Healthy {
				result = "down"
				unhealthy.Add(1)
				m.logger.Warn("processor check failed", "processor", id, "detail", h.Detail)
			}
			checksTotal.WithLabelValues(id, result).Inc()
			checkLatency.WithLabelValues(id).Observe(h.Latency.Seconds())

			if !m.registry.ApplyCheck(id, h.Healthy, h.Latency) {
				m.logger.Warn("check result for unregistered processor", "processor", id)
			}
		}(id, p)
	}
	wg.Wait()
	return int(unhealthy.Load())
}
