package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/payroute/internal/circuitbreaker"
	"github.com/mbd888/payroute/internal/idgen"
	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/registry"
	"github.com/mbd888/payroute/internal/traces"
)

const (
	DefaultTimeout      = 8 * time.Second
	fallbackConfidence  = 0.5
	breakerThreshold    = 5
	breakerOpenDuration = 30 * time.Second
)

// Request is everything one decision is made from.
type Request struct {
	Context   payment.RoutingContext `json:"context"`
	Snapshot  registry.Snapshot      `json:"snapshot"`
	Effort    payment.Effort         `json:"reasoningEffort"`
	Verbosity payment.Verbosity      `json:"verbosity"`
	Type      payment.DecisionType   `json:"decisionType"`
}

// Config configures an Adapter.
type Config struct {
	Timeout time.Duration
	Parser  Parser
	Builder PromptBuilder
	Breaker *circuitbreaker.Breaker
	Logger  *slog.Logger
	Now     func() time.Time
}

// Adapter wraps an Oracle and guarantees a valid decision.
type Adapter struct {
	oracle  Oracle
	timeout time.Duration
	parser  Parser
	builder PromptBuilder
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	now     func() time.Time
}

// NewAdapter creates an Adapter around o. Zero Config fields get defaults:
// 8s timeout, text parser, a breaker opening after 5 failures for 30s.
func NewAdapter(o Oracle, cfg Config) *Adapter {
	a := &Adapter{
		oracle:  o,
		timeout: cfg.Timeout,
		parser:  cfg.Parser,
		builder: cfg.Builder,
		breaker: cfg.Breaker,
		logger:  logging.OrDefault(cfg.Logger),
		now:     cfg.Now,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.parser == nil {
		a.parser = TextParser{}
	}
	if _, ok := a.parser.(JSONParser); ok {
		a.builder.JSON = true
	}
	if a.breaker == nil {
		a.breaker = circuitbreaker.New(breakerThreshold, breakerOpenDuration)
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// BreakerKey is the circuit breaker key for the wrapped oracle.
func (a *Adapter) BreakerKey() string { return "oracle:" + a.oracle.Name() }

// BreakerState exposes the oracle circuit state for health checks.
func (a *Adapter) BreakerState() circuitbreaker.State { return a.breaker.State(a.BreakerKey()) }

// OracleName is the wrapped backend's name.
func (a *Adapter) OracleName() string { return a.oracle.Name() }

// Decide returns a decision for req. Backend errors, timeouts, an open
// circuit, unparseable output and ineligible selections all produce the
// deterministic fallback decision instead of an error.
func (a *Adapter) Decide(ctx context.Context, req Request) payment.RoutingDecision {
	start := a.now()
	ctx, span := traces.StartSpan(ctx, "oracle.Decide",
		traces.PaymentID(req.Context.Transaction.ID),
		traces.Attempt(req.Context.AttemptCount+1),
		traces.Effort(req.Effort.String()),
		traces.Verbosity(req.Verbosity.String()),
	)
	defer span.End()

	d, err := a.consult(ctx, req)
	if err != nil {
		logging.L(ctx).Warn("oracle decision degraded to fallback",
			"oracle", a.oracle.Name(), "attempt", req.Context.AttemptCount+1, "error", err)
		traces.RecordError(span, err)
		d = Fallback(req, err.Error())
	}

	d.ID = idgen.WithPrefix(idgen.DecisionPrefix)
	d.PaymentID = req.Context.Transaction.ID
	d.Attempt = req.Context.AttemptCount + 1
	d.Effort = req.Effort
	d.Verbosity = req.Verbosity
	d.Timestamp = a.now().UTC()
	d.Latency = d.Timestamp.Sub(start.UTC())

	decisionsTotal.WithLabelValues(string(d.Source), req.Effort.String()).Inc()
	decisionLatency.WithLabelValues(string(d.Source)).Observe(d.Latency.Seconds())
	span.SetAttributes(traces.Processor(d.Processor), traces.DecisionSource(string(d.Source)))
	return d
}

func (a *Adapter) consult(ctx context.Context, req Request) (payment.RoutingDecision, error) {
	if len(req.Snapshot.Usable(req.Context.FailedSet())) == 0 {
		return payment.RoutingDecision{}, fmt.Errorf("%w: no usable processor", ErrInvalidSelection)
	}

	prompt := a.builder.Build(req)

	var completion Completion
	err := a.breaker.Execute(a.BreakerKey(), func() error {
		cctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		c, err := a.oracle.Complete(cctx, prompt)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return payment.RoutingDecision{}, fmt.Errorf("oracle %s timed out after %s: %w", a.oracle.Name(), a.timeout, err)
		}
		return payment.RoutingDecision{}, fmt.Errorf("oracle %s: %w", a.oracle.Name(), err)
	}

	parsed, err := a.parser.Parse(completion.Text, req.Snapshot.Order)
	if err != nil {
		return payment.RoutingDecision{}, err
	}
	if err := validate(req, parsed.Processor); err != nil {
		return payment.RoutingDecision{}, err
	}

	rc := req.Context
	excluded := rc.FailedSet()
	excluded[parsed.Processor] = struct{}{}
	return payment.RoutingDecision{
		Processor:     parsed.Processor,
		Confidence:    clamp01(parsed.Confidence),
		FallbackChain: req.Snapshot.Chain(excluded),
		Rationale:     parsed.Rationale,
		Type:          req.Type,
		Source:        payment.SourceOracle,
		Usage:         completion.Usage,
	}, nil
}

// validate checks the selection is routable, not already failed and, when
// any candidate can take the transaction, one of those candidates.
func validate(req Request, id string) error {
	rec, ok := req.Snapshot.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s is not registered", ErrInvalidSelection, id)
	}
	if !rec.Status.Routable() {
		return fmt.Errorf("%w: %s is %s", ErrInvalidSelection, id, rec.Status)
	}
	rc := req.Context
	if rc.HasFailed(id) {
		return fmt.Errorf("%w: %s already failed for this payment", ErrInvalidSelection, id)
	}
	if rec.Capabilities.Supports(rc.Transaction) {
		return nil
	}
	for _, other := range req.Snapshot.Usable(rc.FailedSet()) {
		if other.Capabilities.Supports(rc.Transaction) {
			return fmt.Errorf("%w: %s cannot take %s %s", ErrInvalidSelection, id, rc.Transaction.Amount.StringFixed(2), rc.Transaction.Currency)
		}
	}
	return nil
}

// Fallback is the deterministic decision: the first usable processor in
// registration order that has not failed, confidence 0.5, emergency type.
// Processor is empty only when nothing is usable.
func Fallback(req Request, reason string) payment.RoutingDecision {
	rc := req.Context
	failed := rc.FailedSet()
	usable := req.Snapshot.Usable(failed)

	d := payment.RoutingDecision{
		Confidence:     fallbackConfidence,
		Type:           payment.DecisionEmergency,
		Source:         payment.SourceFallback,
		DegradedReason: reason,
	}
	if len(usable) == 0 {
		d.Rationale = "No usable processor remains; fallback rule has nothing to select. Reason: " + reason
		return d
	}

	d.Processor = usable[0].ID
	failed[d.Processor] = struct{}{}
	d.FallbackChain = req.Snapshot.Chain(failed)
	d.Rationale = fmt.Sprintf("SELECTED PROCESSOR: %s\nCONFIDENCE: %.2f\nDeterministic fallback: oracle output unavailable (%s). Selected the first registered processor that is routable and has not failed for this payment.",
		d.Processor, fallbackConfidence, reason)
	return d
}
