package processor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/idgen"
	"github.com/mbd888/payroute/internal/payment"
)

// SimulatedConfig describes a simulated processor.
type SimulatedConfig struct {
	ID          string
	SuccessRate float64       // 0..1
	Latency     time.Duration // mean; actual is +-50%
	Seed        uint64
	// Fee estimate applied on success.
	FeePercentage float64
	FeeFixed      decimal.Decimal
	// Script, when set, is consumed in order before random outcomes.
	Script []Result
}

var simulatedDeclines = []string{CodeDeclined, CodeInsufficient, "do_not_honor", CodeProcessor, CodeRateLimited}

// Simulated is an in-process executor for demo mode and tests. Outcomes
// are reproducible for a given seed.
type Simulated struct {
	cfg SimulatedConfig

	mu     sync.Mutex
	rng    *rand.Rand
	script []Result
	frozen bool
	calls  int
}

// NewSimulated creates a simulated processor.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	return &Simulated{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		script: append([]Result(nil), cfg.Script...),
	}
}

func (s *Simulated) ID() string { return s.cfg.ID }

// SetFrozen makes every subsequent call fail with account_frozen.
func (s *Simulated) SetFrozen(frozen bool) {
	s.mu.Lock()
	s.frozen = frozen
	s.mu.Unlock()
}

// Calls returns how many payments were attempted.
func (s *Simulated) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Simulated) Execute(ctx context.Context, tx payment.Transaction) (Result, error) {
	s.mu.Lock()
	s.calls++
	res, delay := s.next(tx)
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				r := TimedOut(delay)
				return r, nil
			}
			return Result{}, ctx.Err()
		}
	}
	if res.Latency == 0 {
		res.Latency = delay
	}
	return res, nil
}

// next picks the outcome under s.mu.
func (s *Simulated) next(tx payment.Transaction) (Result, time.Duration) {
	delay := s.jitter()
	switch {
	case s.frozen:
		return Failed(CodeAccountFrozen, fmt.Sprintf("%s account frozen for review", s.cfg.ID)), delay
	case len(s.script) > 0:
		res := s.script[0]
		s.script = s.script[1:]
		if res.OK() && res.ProcessorRef == "" {
			res.ProcessorRef = idgen.WithPrefix(s.cfg.ID + "_")
		}
		return res, delay
	case s.rng.Float64() < s.cfg.SuccessRate:
		pct := decimal.NewFromFloat(s.cfg.FeePercentage).Div(decimal.NewFromInt(100))
		return Result{
			Status:       StatusSuccess,
			ProcessorRef: idgen.WithPrefix(s.cfg.ID + "_"),
			FeeCharged:   tx.Amount.Mul(pct).Add(s.cfg.FeeFixed).Round(2),
		}, delay
	default:
		code := simulatedDeclines[s.rng.IntN(len(simulatedDeclines))]
		return Failed(code, "simulated "+code), delay
	}
}

func (s *Simulated) jitter() time.Duration {
	if s.cfg.Latency <= 0 {
		return 0
	}
	half := int64(s.cfg.Latency / 2)
	return time.Duration(half + s.rng.Int64N(2*half+1))
}

// Check reports healthy unless frozen.
func (s *Simulated) Check(ctx context.Context) Health {
	s.mu.Lock()
	frozen := s.frozen
	latency := s.jitter()
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Health{Detail: err.Error()}
	}
	if frozen {
		return Health{Latency: latency, Detail: "account frozen"}
	}
	return Health{Healthy: true, Latency: latency}
}
