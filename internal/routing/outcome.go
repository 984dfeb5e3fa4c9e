package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/processor"
)

var (
	ErrNoProcessorAvailable = errors.New("routing: no processor available")
	ErrAttemptsExhausted    = errors.New("routing: attempts exhausted")
	ErrPaymentInFlight      = errors.New("routing: payment is already being routed")
)

// Status is how a route call ended.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusAborted   Status = "aborted"
)

// AttemptRecord is one decide-then-execute step.
type AttemptRecord struct {
	Attempt      int                    `json:"attempt"`
	Processor    string                 `json:"processor"`
	DecisionID   string                 `json:"decisionId"`
	DecisionType payment.DecisionType   `json:"decisionType"`
	Source       payment.DecisionSource `json:"source"`
	Confidence   float64                `json:"confidence"`
	Rationale    string                 `json:"rationale"`
	Effort       payment.Effort         `json:"reasoningEffort"`
	Verbosity    payment.Verbosity      `json:"verbosity"`
	Urgency      payment.Urgency        `json:"urgency"`
	Result       processor.Result       `json:"result"`
	StartedAt    time.Time              `json:"startedAt"`
}

// Outcome is the terminal result of Route.
type Outcome struct {
	PaymentID     string                   `json:"paymentId"`
	Status        Status                   `json:"status"`
	Success       bool                     `json:"success"`
	ProcessorUsed string                   `json:"processorUsed,omitempty"`
	FeeCharged    decimal.Decimal          `json:"feeCharged"`
	Attempts      []AttemptRecord          `json:"attempts"`
	FinalError    string                   `json:"finalError,omitempty"`
	Priority      payment.BusinessPriority `json:"businessPriority"`
	Urgency       payment.Urgency          `json:"urgency"`
	Duration      time.Duration            `json:"durationNs"`
}

// Tried lists the processors attempted, in order.
func (o *Outcome) Tried() []string {
	out := make([]string, len(o.Attempts))
	for i, a := range o.Attempts {
		out[i] = a.Processor
	}
	return out
}

// RoutingError is returned when a payment could not be completed. It
// wraps ErrNoProcessorAvailable, ErrAttemptsExhausted or a context error
// and carries every attempt with its rationale.
type RoutingError struct {
	PaymentID string
	Err       error
	Attempts  []AttemptRecord
}

func (e *RoutingError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("payment %s: %v", e.PaymentID, e.Err)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		reason := a.Result.ErrorCode
		if reason == "" {
			reason = string(a.Result.Status)
		}
		parts[i] = fmt.Sprintf("%s (%s)", a.Processor, reason)
	}
	return fmt.Sprintf("payment %s: %v after %d attempt(s): tried %s", e.PaymentID, e.Err, len(e.Attempts), strings.Join(parts, ", "))
}

func (e *RoutingError) Unwrap() error { return e.Err }
