package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/payroute/internal/payment"
)

// Summary aggregates the whole session.
type Summary struct {
	SessionID   string    `json:"sessionId"`
	StartedAt   time.Time `json:"startedAt"`
	TotalEvents int       `json:"totalEvents"`
	Decisions   int       `json:"decisions"`
	Failures    int       `json:"failures"`
	Timeouts    int       `json:"timeouts"`
	Escalations int       `json:"escalations"`
	Recoveries  int       `json:"recoveries"`
	Payments    int       `json:"payments"`
	Succeeded   int       `json:"succeeded"`
	Exhausted   int       `json:"exhausted"`
	Aborted     int       `json:"aborted"`

	FallbackDecisions    int           `json:"fallbackDecisions"`
	AvgConfidence        float64       `json:"avgConfidence"`
	AvgDecisionLatencyMs float64       `json:"avgDecisionLatencyMs"`
	Usage                payment.Usage `json:"usage"`

	EffortDistribution    map[string]int `json:"effortDistribution"`
	VerbosityDistribution map[string]int `json:"verbosityDistribution"`
	DecisionTypes         map[string]int `json:"decisionTypes"`
	ProcessorSelections   map[string]int `json:"processorSelections"`
	ProcessorFailures     map[string]int `json:"processorFailures"`
}

// SessionSummary aggregates every event appended so far.
func (l *Log) SessionSummary(ctx context.Context) (Summary, error) {
	events, err := l.Events(ctx)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		SessionID:             l.sessionID,
		StartedAt:             l.startedAt,
		TotalEvents:           len(events),
		EffortDistribution:    make(map[string]int),
		VerbosityDistribution: make(map[string]int),
		DecisionTypes:         make(map[string]int),
		ProcessorSelections:   make(map[string]int),
		ProcessorFailures:     make(map[string]int),
	}

	payments := make(map[string]struct{})
	var confidence float64
	var latency time.Duration

	for _, e := range events {
		if e.PaymentID != "" {
			payments[e.PaymentID] = struct{}{}
		}
		switch e.Kind {
		case KindDecision:
			d := e.Decision
			s.Decisions++
			s.EffortDistribution[d.Effort.String()]++
			s.VerbosityDistribution[d.Verbosity.String()]++
			s.DecisionTypes[string(d.Type)]++
			s.ProcessorSelections[d.Processor]++
			s.Usage = s.Usage.Add(d.Usage)
			if d.Degraded() {
				s.FallbackDecisions++
			}
			confidence += d.Confidence
			latency += d.Latency
		case KindFailure:
			s.Failures++
			s.ProcessorFailures[e.Failure.ProcessorID]++
			if e.Failure.Status == "timeout" {
				s.Timeouts++
			}
		case KindEscalation:
			s.Escalations++
		case KindRecovery:
			s.Recoveries++
		case KindOutcome:
			switch e.Outcome.Status {
			case "succeeded":
				s.Succeeded++
			case "exhausted":
				s.Exhausted++
			case "aborted":
				s.Aborted++
			}
		}
	}

	s.Payments = len(payments)
	if s.Decisions > 0 {
		s.AvgConfidence = confidence / float64(s.Decisions)
		s.AvgDecisionLatencyMs = float64(latency.Milliseconds()) / float64(s.Decisions)
	}
	return s, nil
}

// ReasoningStep is one decision's rationale and the parameters behind it.
type ReasoningStep struct {
	Timestamp  time.Time              `json:"timestamp"`
	Attempt    int                    `json:"attempt"`
	Processor  string                 `json:"processor"`
	Type       payment.DecisionType   `json:"decisionType"`
	Source     payment.DecisionSource `json:"source"`
	Confidence float64                `json:"confidence"`
	Effort     payment.Effort         `json:"reasoningEffort"`
	Verbosity  payment.Verbosity      `json:"verbosity"`
	Rationale  string                 `json:"rationale"`
	Tokens     int                    `json:"tokens"`
}

// TimelineEntry is a compact line of a payment's history.
type TimelineEntry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Processor string    `json:"processor,omitempty"`
	Summary   string    `json:"summary"`
}

// Report is the full audit picture for one payment.
type Report struct {
	PaymentID      string          `json:"paymentId"`
	SessionID      string          `json:"sessionId"`
	TotalEvents    int             `json:"totalEvents"`
	Decisions      int             `json:"decisions"`
	Failures       int             `json:"failures"`
	EventKinds     []Kind          `json:"eventKinds"`
	Usage          payment.Usage   `json:"usage"`
	Duration       time.Duration   `json:"durationNs"`
	ReasoningChain []ReasoningStep `json:"reasoningChain"`
	Timeline       []TimelineEntry `json:"timeline"`
	Outcome        *Outcome        `json:"outcome,omitempty"`
	Events         []Event         `json:"events"`
}

// PaymentReport builds the report for paymentID. It returns ErrNoEvents if
// nothing was recorded for it.
func (l *Log) PaymentReport(ctx context.Context, paymentID string) (Report, error) {
	events, err := l.Trail(ctx, paymentID)
	if err != nil {
		return Report{}, err
	}
	if len(events) == 0 {
		return Report{}, fmt.Errorf("%w: %s", ErrNoEvents, paymentID)
	}

	r := Report{
		PaymentID:   paymentID,
		SessionID:   l.sessionID,
		TotalEvents: len(events),
		Events:      events,
	}
	seen := make(map[Kind]bool)
	for _, e := range events {
		if !seen[e.Kind] {
			seen[e.Kind] = true
			r.EventKinds = append(r.EventKinds, e.Kind)
		}
		r.Timeline = append(r.Timeline, TimelineEntry{
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Kind:      e.Kind,
			Processor: e.ProcessorID(),
			Summary:   e.Summary(),
		})

		switch e.Kind {
		case KindDecision:
			d := e.Decision
			r.Decisions++
			r.Usage = r.Usage.Add(d.Usage)
			r.ReasoningChain = append(r.ReasoningChain, ReasoningStep{
				Timestamp:  e.Timestamp,
				Attempt:    d.Attempt,
				Processor:  d.Processor,
				Type:       d.Type,
				Source:     d.Source,
				Confidence: d.Confidence,
				Effort:     d.Effort,
				Verbosity:  d.Verbosity,
				Rationale:  d.Rationale,
				Tokens:     d.Usage.TotalTokens,
			})
		case KindFailure:
			r.Failures++
		case KindOutcome:
			o := *e.Outcome
			r.Outcome = &o
		}
	}
	r.Duration = events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
	return r, nil
}
