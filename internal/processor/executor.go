// Package processor executes payments against external processors.
//
// Every executor reports its outcome as a Result. Transport problems,
// declines and timeouts are outcomes, not errors: Execute returns an error
// only when the request could not be attempted at all.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/traces"
)

var ErrUnknownProcessor = errors.New("processor: no executor registered")

// Status of one execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Common error codes. Processors may return their own.
const (
	CodeTimeout        = "timeout"
	CodeNetwork        = "network_error"
	CodeProcessor      = "processor_error"
	CodeDeclined       = "card_declined"
	CodeInsufficient   = "insufficient_funds"
	CodeAccountFrozen  = "account_frozen"
	CodeRateLimited    = "rate_limited"
	CodeInvalidRequest = "invalid_request"
	CodeExecutor       = "executor_error"
)

// Result is the outcome of one execution.
type Result struct {
	Status       Status          `json:"status"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	FeeCharged   decimal.Decimal `json:"feeCharged"`
	ProcessorRef string          `json:"processorRef,omitempty"`
	Latency      time.Duration   `json:"latencyNs"`
}

// OK reports whether the payment went through.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Failed builds a failed result.
func Failed(code, msg string) Result {
	return Result{Status: StatusFailed, ErrorCode: code, ErrorMessage: msg}
}

// TimedOut builds a timeout result.
func TimedOut(after time.Duration) Result {
	return Result{Status: StatusTimeout, ErrorCode: CodeTimeout, ErrorMessage: fmt.Sprintf("no response within %s", after)}
}

// Executor runs a payment against one processor.
type Executor interface {
	ID() string
	Execute(ctx context.Context, tx payment.Transaction) (Result, error)
}

// Health is the result of a check.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latencyNs"`
	Detail  string        `json:"detail,omitempty"`
}

// Checker is implemented by executors that support health checks.
type Checker interface {
	Check(ctx context.Context) Health
}

// Set holds the executors by processor id and applies the execution
// timeout to every call.
type Set struct {
	mu        sync.RWMutex
	executors map[string]Executor
	timeout   time.Duration
}

// NewSet creates a Set. timeout <= 0 means 10s.
func NewSet(timeout time.Duration, executors ...Executor) *Set {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Set{executors: make(map[string]Executor), timeout: timeout}
	for _, e := range executors {
		s.Add(e)
	}
	return s
}

// Add registers e, replacing any executor with the same id.
func (s *Set) Add(e Executor) {
	s.mu.Lock()
	s.executors[e.ID()] = e
	s.mu.Unlock()
}

// Get returns the executor for id.
func (s *Set) Get(id string) (Executor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executors[id]
	return e, ok
}

// IDs returns the registered ids, sorted.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.executors))
	for id := range s.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Checkers returns the executors that support health checks, by id.
func (s *Set) Checkers() map[string]Checker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Checker)
	for id, e := range s.executors {
		if p, ok := e.(Checker); ok {
			out[id] = p
		}
	}
	return out
}

// Execute runs tx on processor id, bounded by the set's timeout.
func (s *Set) Execute(ctx context.Context, id string, tx payment.Transaction) (Result, error) {
	e, ok := s.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, id)
	}

	ctx, span := traces.StartSpan(ctx, "processor.Execute", traces.Processor(id), traces.PaymentID(tx.ID))
	defer span.End()

	res, err := WithTimeout(e, s.timeout).Execute(ctx, tx)
	if err != nil {
		traces.RecordError(span, err)
		return res, err
	}
	span.SetAttributes(traces.Status(string(res.Status)))
	executionsTotal.WithLabelValues(id, string(res.Status)).Inc()
	executionDuration.WithLabelValues(id).Observe(res.Latency.Seconds())
	return res, nil
}

type timeoutExecutor struct {
	Executor
	d time.Duration
}

// WithTimeout bounds e. When d elapses first the result is a timeout,
// whether or not e honors its context.
func WithTimeout(e Executor, d time.Duration) Executor {
	return timeoutExecutor{Executor: e, d: d}
}

type outcome struct {
	res Result
	err error
}

func (t timeoutExecutor) Execute(ctx context.Context, tx payment.Transaction) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		res, err := t.Executor.Execute(ctx, tx)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.res.Latency == 0 {
			o.res.Latency = time.Since(start)
		}
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res := TimedOut(t.d)
			res.Latency = time.Since(start)
			return res, nil
		}
		return Result{}, ctx.Err()
	}
}
