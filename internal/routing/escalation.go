package routing

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/payment"
)

// Thresholds split transactions into small, moderate and large.
type Thresholds struct {
	Large    decimal.Decimal
	Moderate decimal.Decimal
}

// DefaultThresholds: moderate from 1000, large above 5000.
var DefaultThresholds = Thresholds{
	Large:    decimal.NewFromInt(5000),
	Moderate: decimal.NewFromInt(1000),
}

// EscalationInput is what reasoning effort and verbosity are chosen from.
type EscalationInput struct {
	Amount   decimal.Decimal
	Failures int
	Urgency  payment.Urgency
}

// Escalate picks the reasoning effort and verbosity for the next decision.
// Both are non-decreasing in Failures, Urgency and Amount.
func (t Thresholds) Escalate(in EscalationInput) (payment.Effort, payment.Verbosity) {
	large := in.Amount.GreaterThan(t.Large)
	moderate := in.Amount.GreaterThanOrEqual(t.Moderate)

	var effort payment.Effort
	switch {
	case large || in.Failures >= 2 || in.Urgency >= payment.UrgencyElevated:
		effort = payment.EffortHigh
	case moderate || in.Failures == 1:
		effort = payment.EffortMedium
	case in.Urgency == payment.UrgencyRoutine && in.Failures == 0:
		effort = payment.EffortMinimal
	default:
		effort = payment.EffortLow
	}

	var verbosity payment.Verbosity
	switch {
	case in.Urgency == payment.UrgencyCritical || in.Failures >= 2 || large:
		verbosity = payment.VerbosityHigh
	case in.Failures == 1 || moderate || in.Urgency >= payment.UrgencyElevated:
		verbosity = payment.VerbosityMedium
	default:
		verbosity = payment.VerbosityLow
	}
	return effort, verbosity
}

// EscalateUrgency raises urgency once two or more attempts have failed:
// elevated, or critical when at most one attempt remains. It never lowers
// urgency. The bool reports whether an escalation applies.
func EscalateUrgency(current payment.Urgency, failedAttempts, maxAttempts int) (payment.Urgency, bool) {
	if failedAttempts < 2 {
		return current, false
	}
	target := payment.UrgencyElevated
	if maxAttempts-failedAttempts <= 1 {
		target = payment.UrgencyCritical
	}
	return current.Max(target), true
}
