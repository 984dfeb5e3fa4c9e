// Package audit is the append-only record of routing activity: every
// decision, failure, escalation, recovery and final outcome, queryable per
// payment and per session.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/payroute/internal/payment"
)

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrNoEvents     = errors.New("audit: no events for payment")
)

// Kind tags which payload an Event carries.
type Kind string

const (
	KindDecision   Kind = "routing_decision"
	KindFailure    Kind = "processor_failure"
	KindRecovery   Kind = "processor_recovery"
	KindEscalation Kind = "fallback_escalation"
	KindOutcome    Kind = "routing_outcome"
)

// Kinds lists every event kind.
var Kinds = []Kind{KindDecision, KindFailure, KindRecovery, KindEscalation, KindOutcome}

// Event is a tagged union: exactly the payload matching Kind is set.
// Seq, Timestamp, ID and SessionID are assigned by Log.Append.
type Event struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	PaymentID string    `json:"paymentId,omitempty"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`

	Decision   *payment.RoutingDecision `json:"decision,omitempty"`
	Failure    *Failure                 `json:"failure,omitempty"`
	Recovery   *Recovery                `json:"recovery,omitempty"`
	Escalation *Escalation              `json:"escalation,omitempty"`
	Outcome    *Outcome                 `json:"outcome,omitempty"`
}

// Failure records one failed execution attempt.
type Failure struct {
	ProcessorID  string        `json:"processorId"`
	Attempt      int           `json:"attempt"`
	Status       string        `json:"status"` // failed | timeout
	FailureKind  string        `json:"failureKind"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Permanent    bool          `json:"permanent"`
	Latency      time.Duration `json:"latencyNs"`
}

// Recovery records a processor returning to a routable status.
type Recovery struct {
	ProcessorID string `json:"processorId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Reason      string `json:"reason"`
}

// Escalation records the urgency bump applied after repeated failures.
type Escalation struct {
	FailedProcessors []string        `json:"failedProcessors"`
	Reason           string          `json:"reason"`
	PreviousUrgency  payment.Urgency `json:"previousUrgency"`
	NewUrgency       payment.Urgency `json:"newUrgency"`
	NextAttempt      int             `json:"nextAttempt,omitempty"` // 0 when no attempt remains
}

// Outcome records how a route call ended.
type Outcome struct {
	Status        string          `json:"status"` // succeeded | exhausted | aborted
	ProcessorUsed string          `json:"processorUsed,omitempty"`
	Attempts      int             `json:"attempts"`
	FeeCharged    string          `json:"feeCharged,omitempty"`
	Error         string          `json:"error,omitempty"`
	Duration      time.Duration   `json:"durationNs"`
	Priority      string          `json:"businessPriority,omitempty"`
	Urgency       payment.Urgency `json:"urgency"`
}

// Validate checks that exactly the payload matching Kind is present.
func (e Event) Validate() error {
	set := 0
	for _, present := range []bool{e.Decision != nil, e.Failure != nil, e.Recovery != nil, e.Escalation != nil, e.Outcome != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads set", ErrInvalidEvent, set)
	}

	var ok bool
	switch e.Kind {
	case KindDecision:
		ok = e.Decision != nil
	case KindFailure:
		ok = e.Failure != nil
	case KindRecovery:
		ok = e.Recovery != nil
	case KindEscalation:
		ok = e.Escalation != nil
	case KindOutcome:
		ok = e.Outcome != nil
	}
	if !ok {
		return fmt.Errorf("%w: payload does not match kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// ProcessorID returns the processor the event concerns, if any.
func (e Event) ProcessorID() string {
	switch {
	case e.Decision != nil:
		return e.Decision.Processor
	case e.Failure != nil:
		return e.Failure.ProcessorID
	case e.Recovery != nil:
		return e.Recovery.ProcessorID
	case e.Outcome != nil:
		return e.Outcome.ProcessorUsed
	}
	return ""
}

// Summary is a one-line human description of the event.
func (e Event) Summary() string {
	switch {
	case e.Decision != nil:
		d := e.Decision
		return fmt.Sprintf("%s decision routed to %s (confidence %.0f%%, source %s)", d.Type, d.Processor, d.Confidence*100, d.Source)
	case e.Failure != nil:
		msg := e.Failure.ErrorMessage
		if msg == "" {
			msg = e.Failure.ErrorCode
		}
		return fmt.Sprintf("processor %s %s on attempt %d: %s", e.Failure.ProcessorID, e.Failure.Status, e.Failure.Attempt, msg)
	case e.Recovery != nil:
		return fmt.Sprintf("processor %s recovered %s -> %s", e.Recovery.ProcessorID, e.Recovery.From, e.Recovery.To)
	case e.Escalation != nil:
		return fmt.Sprintf("escalated to %s urgency: %s", e.Escalation.NewUrgency, e.Escalation.Reason)
	case e.Outcome != nil:
		if e.Outcome.ProcessorUsed != "" {
			return fmt.Sprintf("payment %s via %s after %d attempt(s)", e.Outcome.Status, e.Outcome.ProcessorUsed, e.Outcome.Attempts)
		}
		return fmt.Sprintf("payment %s after %d attempt(s)", e.Outcome.Status, e.Outcome.Attempts)
	}
	return string(e.Kind) + " event"
}

// clone copies the payload so stored events cannot be changed through the
// caller's pointers.
func (e Event) clone() Event {
	if e.Decision != nil {
		d := e.Decision.Clone()
		e.Decision = &d
	}
	if e.Failure != nil {
		f := *e.Failure
		e.Failure = &f
	}
	if e.Recovery != nil {
		r := *e.Recovery
		e.Recovery = &r
	}
	if e.Escalation != nil {
		x := *e.Escalation
		x.FailedProcessors = append([]string(nil), e.Escalation.FailedProcessors...)
		e.Escalation = &x
	}
	if e.Outcome != nil {
		o := *e.Outcome
		e.Outcome = &o
	}
	return e
}

// Constructors. Each returns an event with its kind set.

func DecisionEvent(d payment.RoutingDecision) Event {
	d = d.Clone()
	return Event{Kind: KindDecision, PaymentID: d.PaymentID, Decision: &d}
}

func FailureEvent(paymentID string, f Failure) Event {
	return Event{Kind: KindFailure, PaymentID: paymentID, Failure: &f}
}

func RecoveryEvent(paymentID string, r Recovery) Event {
	return Event{Kind: KindRecovery, PaymentID: paymentID, Recovery: &r}
}

func EscalationEvent(paymentID string, x Escalation) Event {
	return Event{Kind: KindEscalation, PaymentID: paymentID, Escalation: &x}
}

func OutcomeEvent(paymentID string, o Outcome) Event {
	return Event{Kind: KindOutcome, PaymentID: paymentID, Outcome: &o}
}
