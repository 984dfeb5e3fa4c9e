package payment

import (
	"slices"
	"time"
)

// RoutingContext is the per-payment state carried through the retry loop.
// Failed only grows; AttemptCount never exceeds MaxAttempts.
type RoutingContext struct {
	Transaction  Transaction      `json:"transaction"`
	Failed       []string         `json:"failedProcessors"`
	Priority     BusinessPriority `json:"businessPriority"`
	Urgency      Urgency          `json:"urgency"`
	AttemptCount int              `json:"attemptCount"`
	MaxAttempts  int              `json:"maxAttempts"`
}

// NewRoutingContext starts a context with no attempts.
func NewRoutingContext(tx Transaction, priority BusinessPriority, urgency Urgency, maxAttempts int) *RoutingContext {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &RoutingContext{
		Transaction: tx,
		Priority:    priority,
		Urgency:     urgency,
		MaxAttempts: maxAttempts,
	}
}

// HasFailed reports whether id already failed for this payment.
func (c *RoutingContext) HasFailed(id string) bool {
	return slices.Contains(c.Failed, id)
}

// MarkFailed appends id to the failed set if it is not already there.
func (c *RoutingContext) MarkFailed(id string) {
	if !c.HasFailed(id) {
		c.Failed = append(c.Failed, id)
	}
}

// FailedSet returns the failed ids as a set.
func (c *RoutingContext) FailedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Failed))
	for _, id := range c.Failed {
		set[id] = struct{}{}
	}
	return set
}

// Remaining is the number of attempts left.
func (c *RoutingContext) Remaining() int {
	return c.MaxAttempts - c.AttemptCount
}

// Exhausted reports whether the attempt budget is used up.
func (c *RoutingContext) Exhausted() bool {
	return c.AttemptCount >= c.MaxAttempts
}

// DecisionType for the next attempt.
func (c *RoutingContext) DecisionType() DecisionType {
	return DecisionTypeFor(c.AttemptCount, c.MaxAttempts)
}

// Clone returns a copy that does not share the failed slice.
func (c *RoutingContext) Clone() RoutingContext {
	out := *c
	out.Failed = slices.Clone(c.Failed)
	return out
}

// DecisionSource says who produced a decision.
type DecisionSource string

const (
	SourceOracle   DecisionSource = "oracle"
	SourceFallback DecisionSource = "fallback"
)

// Usage is the oracle's token accounting for one decision.
type Usage struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	CostUSD          float64 `json:"costUsd"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		CostUSD:          u.CostUSD + o.CostUSD,
	}
}

// RoutingDecision is the choice made for one attempt. It is a value and is
// never modified after it is appended to the audit log.
type RoutingDecision struct {
	ID             string         `json:"id"`
	PaymentID      string         `json:"paymentId"`
	Attempt        int            `json:"attempt"`
	Processor      string         `json:"selectedProcessor"`
	Confidence     float64        `json:"confidence"`
	FallbackChain  []string       `json:"fallbackChain"`
	Rationale      string         `json:"rationale"`
	Type           DecisionType   `json:"decisionType"`
	Effort         Effort         `json:"reasoningEffort"`
	Verbosity      Verbosity      `json:"verbosity"`
	Source         DecisionSource `json:"source"`
	DegradedReason string         `json:"degradedReason,omitempty"`
	Usage          Usage          `json:"usage"`
	Latency        time.Duration  `json:"latencyNs"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Degraded reports whether the decision was substituted by the fallback rule.
func (d RoutingDecision) Degraded() bool {
	return d.Source == SourceFallback
}

// Clone returns a copy that does not share the fallback chain.
func (d RoutingDecision) Clone() RoutingDecision {
	d.FallbackChain = slices.Clone(d.FallbackChain)
	return d
}
