package routing

import (
	"github.com/mbd888/payroute/internal/oracle"
	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/registry"
)

// Candidate is one processor as the first decision would see it.
type Candidate struct {
	ProcessorID    string                  `json:"processorId"`
	Status         registry.Status         `json:"status"`
	Composite      float64                 `json:"compositeScore"`
	RiskScore      float64                 `json:"riskScore"`
	Recommendation registry.Recommendation `json:"recommendation"`
	EstimatedFee   string                  `json:"estimatedFee"`
	Supported      bool                    `json:"supported"`
}

// Plan is what a fresh route of a transaction would start with.
type Plan struct {
	PaymentID    string                   `json:"paymentId"`
	Priority     payment.BusinessPriority `json:"businessPriority"`
	Urgency      payment.Urgency          `json:"urgency"`
	Effort       payment.Effort           `json:"reasoningEffort"`
	Verbosity    payment.Verbosity        `json:"verbosity"`
	DecisionType payment.DecisionType     `json:"decisionType"`
	MaxAttempts  int                      `json:"maxAttempts"`
	MaxTokens    int                      `json:"maxTokens"`
	Chain        []string                 `json:"fallbackChain"`
	Candidates   []Candidate              `json:"candidates"`
}

// Preview reports the effort, verbosity, fallback chain and ranked
// candidates a fresh route would use. It has no side effects.
func (e *Engine) Preview(tx payment.Transaction, priority payment.BusinessPriority, urgency payment.Urgency) Plan {
	if priority == "" {
		priority = payment.PriorityReliability
	}
	effort, verbosity := e.thresholds.Escalate(EscalationInput{Amount: tx.Amount, Urgency: urgency})
	snap := e.registry.Snapshot()

	plan := Plan{
		PaymentID:    tx.ID,
		Priority:     priority,
		Urgency:      urgency,
		Effort:       effort,
		Verbosity:    verbosity,
		DecisionType: payment.DecisionTypeFor(0, e.maxAttempts),
		MaxAttempts:  e.maxAttempts,
		MaxTokens:    verbosity.MaxTokens(),
		Chain:        snap.Chain(nil),
		Candidates:   []Candidate{},
	}
	for _, r := range oracle.Rank(snap, tx, nil) {
		plan.Candidates = append(plan.Candidates, Candidate{
			ProcessorID:    r.Record.ID,
			Status:         r.Record.Status,
			Composite:      r.Composite,
			RiskScore:      r.Assessment.Score,
			Recommendation: r.Assessment.Recommendation,
			EstimatedFee:   r.Assessment.EstimatedFee.StringFixed(2),
			Supported:      r.Record.Capabilities.Supports(tx),
		})
	}
	return plan
}
