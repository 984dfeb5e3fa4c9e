// Package routing drives a payment through decide, execute and fall back
// until it succeeds or its attempt budget runs out.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/audit"
	"github.com/mbd888/payroute/internal/idgen"
	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/oracle"
	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/processor"
	"github.com/mbd888/payroute/internal/registry"
	"github.com/mbd888/payroute/internal/syncutil"
	"github.com/mbd888/payroute/internal/traces"
)

// DefaultMaxAttempts is the attempt budget when none is configured.
const DefaultMaxAttempts = 3

// Decider produces a routing decision. *oracle.Adapter implements it.
type Decider interface {
	Decide(ctx context.Context, req oracle.Request) payment.RoutingDecision
}

// Executor runs a payment on a processor. *processor.Set implements it.
type Executor interface {
	Execute(ctx context.Context, processorID string, tx payment.Transaction) (processor.Result, error)
}

// Auditor records routing events. *audit.Log implements it.
type Auditor interface {
	Append(ctx context.Context, e audit.Event)
}

// Config configures an Engine.
type Config struct {
	MaxAttempts int
	Thresholds  Thresholds
	Logger      *slog.Logger
	Now         func() time.Time
}

// Engine routes payments.
type Engine struct {
	registry    *registry.Registry
	decider     Decider
	executor    Executor
	audit       Auditor
	maxAttempts int
	thresholds  Thresholds
	logger      *slog.Logger
	now         func() time.Time
	locks       *syncutil.ContextShardedMutex
}

// NewEngine creates an Engine. Zero Config fields get defaults.
func NewEngine(reg *registry.Registry, decider Decider, executor Executor, auditor Auditor, cfg Config) *Engine {
	e := &Engine{
		registry:    reg,
		decider:     decider,
		executor:    executor,
		audit:       auditor,
		maxAttempts: cfg.MaxAttempts,
		thresholds:  cfg.Thresholds,
		logger:      logging.OrDefault(cfg.Logger),
		now:         cfg.Now,
		locks:       syncutil.NewContextShardedMutex(),
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.thresholds.Large.IsZero() && e.thresholds.Moderate.IsZero() {
		e.thresholds = DefaultThresholds
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// MaxAttempts is the configured attempt budget.
func (e *Engine) MaxAttempts() int { return e.maxAttempts }

// Request is one payment to route.
type Request struct {
	Transaction payment.Transaction
	Priority    payment.BusinessPriority
	Urgency     payment.Urgency
	// MaxAttempts overrides the engine budget when positive.
	MaxAttempts int
}

// Route drives req to a terminal outcome. A successful payment returns the
// outcome and a nil error. Otherwise the outcome is still returned and the
// error is a *RoutingError wrapping ErrNoProcessorAvailable,
// ErrAttemptsExhausted or the context error.
//
// Routes for the same payment id are serialized.
func (e *Engine) Route(ctx context.Context, req Request) (*Outcome, error) {
	tx := req.Transaction
	ctx = logging.WithLogger(ctx, e.logger)
	ctx = logging.WithPaymentID(ctx, tx.ID)

	unlock, err := e.locks.LockContext(ctx, tx.ID)
	if err != nil {
		return nil, &RoutingError{PaymentID: tx.ID, Err: err}
	}
	defer unlock()

	ctx, span := traces.StartSpan(ctx, "routing.Route",
		traces.PaymentID(tx.ID),
		traces.Amount(tx.Amount.StringFixed(2)),
		traces.Currency(tx.Currency),
	)
	defer span.End()

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.maxAttempts
	}
	priority := req.Priority
	if priority == "" {
		priority = payment.PriorityReliability
	}

	r := &run{
		engine: e,
		rc:     payment.NewRoutingContext(tx, priority, req.Urgency, maxAttempts),
		start:  e.now(),
		out: &Outcome{
			PaymentID:  tx.ID,
			Priority:   priority,
			FeeCharged: decimal.Zero,
			Attempts:   []AttemptRecord{},
		},
	}
	out, err := r.loop(ctx)

	span.SetAttributes(traces.Status(string(out.Status)), traces.Attempt(len(out.Attempts)))
	if err != nil {
		traces.RecordError(span, err)
	}
	routesTotal.WithLabelValues(string(out.Status)).Inc()
	routeDuration.WithLabelValues(string(out.Status)).Observe(out.Duration.Seconds())
	return out, err
}

// run is the state of one Route call.
type run struct {
	engine *Engine
	rc     *payment.RoutingContext
	out    *Outcome
	start  time.Time
}

func (r *run) loop(ctx context.Context) (*Outcome, error) {
	e := r.engine
	rc := r.rc

	for !rc.Exhausted() {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, StatusAborted, err)
		}

		snap := e.registry.Snapshot()
		if len(snap.Usable(rc.FailedSet())) == 0 {
			return r.finish(ctx, StatusExhausted, ErrNoProcessorAvailable)
		}

		d := r.decide(ctx, snap)
		if d.Processor == "" {
			return r.finish(ctx, StatusExhausted, ErrNoProcessorAvailable)
		}
		e.audit.Append(ctx, audit.DecisionEvent(d))

		prior, _ := snap.Get(d.Processor)
		res, err := r.execute(ctx, d)
		rc.AttemptCount++
		r.out.Attempts = append(r.out.Attempts, AttemptRecord{
			Attempt:      d.Attempt,
			Processor:    d.Processor,
			DecisionID:   d.ID,
			DecisionType: d.Type,
			Source:       d.Source,
			Confidence:   d.Confidence,
			Rationale:    d.Rationale,
			Effort:       d.Effort,
			Verbosity:    d.Verbosity,
			Urgency:      rc.Urgency,
			Result:       res,
			StartedAt:    d.Timestamp,
		})
		if err != nil {
			rc.MarkFailed(d.Processor)
			return r.finish(ctx, StatusAborted, err)
		}

		if res.OK() {
			attemptsTotal.WithLabelValues(d.Processor, "success").Inc()
			r.succeeded(ctx, prior, res)
			return r.finish(ctx, StatusSucceeded, nil)
		}

		attemptsTotal.WithLabelValues(d.Processor, string(res.Status)).Inc()
		r.failed(ctx, d, res)
	}
	return r.finish(ctx, StatusExhausted, ErrAttemptsExhausted)
}

// decide asks the decider and substitutes the fallback rule when the
// selection is not eligible for this attempt.
func (r *run) decide(ctx context.Context, snap registry.Snapshot) payment.RoutingDecision {
	e := r.engine
	rc := r.rc
	effort, verbosity := e.thresholds.Escalate(EscalationInput{
		Amount:   rc.Transaction.Amount,
		Failures: len(rc.Failed),
		Urgency:  rc.Urgency,
	})
	req := oracle.Request{
		Context:   rc.Clone(),
		Snapshot:  snap,
		Effort:    effort,
		Verbosity: verbosity,
		Type:      rc.DecisionType(),
	}

	d := e.decider.Decide(ctx, req)
	if reason := ineligible(snap, rc, d.Processor); reason != "" {
		logging.L(ctx).Warn("decider selected ineligible processor, using fallback rule",
			"processor", d.Processor, "reason", reason)
		fb := oracle.Fallback(req, reason)
		fb.ID = idgen.WithPrefix(idgen.DecisionPrefix)
		fb.Usage = d.Usage
		fb.Latency = d.Latency
		d = fb
	}
	if d.ID == "" {
		d.ID = idgen.WithPrefix(idgen.DecisionPrefix)
	}
	d.PaymentID = rc.Transaction.ID
	d.Attempt = rc.AttemptCount + 1
	d.Effort = effort
	d.Verbosity = verbosity
	if d.Timestamp.IsZero() {
		d.Timestamp = e.now().UTC()
	}
	return d
}

func ineligible(snap registry.Snapshot, rc *payment.RoutingContext, id string) string {
	if id == "" {
		return "no processor selected"
	}
	rec, ok := snap.Get(id)
	switch {
	case !ok:
		return fmt.Sprintf("unknown processor %q", id)
	case rc.HasFailed(id):
		return fmt.Sprintf("processor %q already failed for this payment", id)
	case !rec.Status.Routable():
		return fmt.Sprintf("processor %q is %s", id, rec.Status)
	}
	return ""
}

// execute runs one attempt. It returns an error only when ctx ended.
func (r *run) execute(ctx context.Context, d payment.RoutingDecision) (processor.Result, error) {
	ctx, span := traces.StartSpan(ctx, "routing.attempt",
		traces.Processor(d.Processor),
		traces.Attempt(d.Attempt),
		traces.DecisionSource(string(d.Source)),
	)
	defer span.End()

	start := r.engine.now()
	res, err := r.engine.executor.Execute(ctx, d.Processor, r.rc.Transaction)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			traces.RecordError(span, err)
			return processor.Result{Status: processor.StatusFailed, ErrorCode: "aborted", ErrorMessage: err.Error()}, err
		}
		res = processor.Failed(processor.CodeExecutor, err.Error())
	}
	if res.Latency <= 0 {
		res.Latency = r.engine.now().Sub(start)
	}
	span.SetAttributes(traces.Status(string(res.Status)))
	return res, nil
}

func (r *run) succeeded(ctx context.Context, prior registry.ProcessorRecord, res processor.Result) {
	e := r.engine
	id := prior.ID
	if !e.registry.RecordSuccess(id, res.Latency) {
		logging.L(ctx).Warn("success reported for unregistered processor", "processor", id)
	}
	if prior.Status == registry.StatusDegraded {
		if now, err := e.registry.Get(id); err == nil && now.Status == registry.StatusHealthy {
			e.audit.Append(ctx, audit.RecoveryEvent(r.rc.Transaction.ID, audit.Recovery{
				ProcessorID: id,
				From:        string(prior.Status),
				To:          string(now.Status),
				Reason:      "success",
			}))
		}
	}
	r.out.ProcessorUsed = id
	r.out.FeeCharged = res.FeeCharged
}

func (r *run) failed(ctx context.Context, d payment.RoutingDecision, res processor.Result) {
	e := r.engine
	rc := r.rc

	kind, permanent := processor.Classify(res)
	if !e.registry.RecordFailure(d.Processor, kind, permanent) {
		logging.L(ctx).Warn("failure reported for unregistered processor", "processor", d.Processor)
	}
	e.audit.Append(ctx, audit.FailureEvent(rc.Transaction.ID, audit.Failure{
		ProcessorID:  d.Processor,
		Attempt:      d.Attempt,
		Status:       string(res.Status),
		FailureKind:  string(kind),
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
		Permanent:    permanent,
		Latency:      res.Latency,
	}))
	logging.L(ctx).Info("processor attempt failed",
		"processor", d.Processor,
		"attempt", d.Attempt,
		"status", res.Status,
		"error_code", res.ErrorCode,
		"failure_kind", kind,
	)
	rc.MarkFailed(d.Processor)

	prev := rc.Urgency
	next, escalate := EscalateUrgency(prev, len(rc.Failed), rc.MaxAttempts)
	if !escalate {
		return
	}
	// every failure from the second on is recorded; urgency only moves
	// when there is an attempt left to use it
	nextAttempt := 0
	if !rc.Exhausted() {
		rc.Urgency = next
		r.out.Urgency = next
		nextAttempt = rc.AttemptCount + 1
	}
	e.audit.Append(ctx, audit.EscalationEvent(rc.Transaction.ID, audit.Escalation{
		FailedProcessors: append([]string(nil), rc.Failed...),
		Reason:           fmt.Sprintf("%d processors failed; last: %s (%s)", len(rc.Failed), d.Processor, res.ErrorCode),
		PreviousUrgency:  prev,
		NewUrgency:       next,
		NextAttempt:      nextAttempt,
	}))
}

// finish records the outcome event and builds the return values.
func (r *run) finish(ctx context.Context, status Status, cause error) (*Outcome, error) {
	e := r.engine
	out := r.out
	out.Status = status
	out.Success = status == StatusSucceeded
	out.Urgency = r.rc.Urgency
	out.Duration = e.now().Sub(r.start)

	var err error
	if cause != nil {
		err = &RoutingError{PaymentID: out.PaymentID, Err: cause, Attempts: out.Attempts}
		out.FinalError = err.Error()
	}

	ev := audit.Outcome{
		Status:        string(status),
		ProcessorUsed: out.ProcessorUsed,
		Attempts:      len(out.Attempts),
		Error:         out.FinalError,
		Duration:      out.Duration,
		Priority:      string(out.Priority),
		Urgency:       out.Urgency,
	}
	if out.Success {
		ev.FeeCharged = out.FeeCharged.StringFixed(2)
	}
	// The caller's context may already be done; the outcome is still recorded.
	e.audit.Append(context.WithoutCancel(ctx), audit.OutcomeEvent(out.PaymentID, ev))

	if out.Success {
		logging.L(ctx).Info("payment routed",
			"processor", out.ProcessorUsed, "attempts", len(out.Attempts), "fee", out.FeeCharged.StringFixed(2))
	} else {
		logging.L(ctx).Warn("payment not routed",
			"status", status, "attempts", len(out.Attempts), "error", cause)
	}
	return out, err
}
