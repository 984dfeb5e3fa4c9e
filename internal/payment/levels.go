package payment

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Business priority
// -----------------------------------------------------------------------------

// BusinessPriority is what the merchant optimizes for on this payment.
type BusinessPriority string

const (
	PriorityCost             BusinessPriority = "cost"
	PriorityReliability      BusinessPriority = "reliability"
	PrioritySpeed            BusinessPriority = "speed"
	PriorityRiskMinimization BusinessPriority = "risk_minimization"
	PriorityCompliance       BusinessPriority = "compliance"
)

// Priorities lists every business priority.
var Priorities = []BusinessPriority{
	PriorityCost, PriorityReliability, PrioritySpeed, PriorityRiskMinimization, PriorityCompliance,
}

// ParseBusinessPriority parses a priority name. Empty means reliability.
func ParseBusinessPriority(s string) (BusinessPriority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityReliability, nil
	}
	for _, p := range Priorities {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("payment: unknown business priority %q", s)
}

// -----------------------------------------------------------------------------
// Ordinal levels
// -----------------------------------------------------------------------------

// Urgency of a payment. Ordered: Routine < Normal < Elevated < Critical.
type Urgency int

const (
	UrgencyRoutine Urgency = iota
	UrgencyNormal
	UrgencyElevated
	UrgencyCritical
)

var urgencyNames = []string{"routine", "normal", "elevated", "critical"}

func (u Urgency) String() string { return levelName(urgencyNames, int(u)) }

// ParseUrgency parses an urgency name. Empty means normal.
func ParseUrgency(s string) (Urgency, error) {
	if strings.TrimSpace(s) == "" {
		return UrgencyNormal, nil
	}
	i, err := parseLevel(urgencyNames, "urgency", s)
	return Urgency(i), err
}

func (u Urgency) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *Urgency) UnmarshalText(b []byte) error {
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Max returns the higher of two urgencies.
func (u Urgency) Max(o Urgency) Urgency {
	if o > u {
		return o
	}
	return u
}

// Effort is how much reasoning the oracle should spend.
// Ordered: Minimal < Low < Medium < High.
type Effort int

const (
	EffortMinimal Effort = iota
	EffortLow
	EffortMedium
	EffortHigh
)

var effortNames = []string{"minimal", "low", "medium", "high"}

func (e Effort) String() string { return levelName(effortNames, int(e)) }

// ParseEffort parses an effort name.
func ParseEffort(s string) (Effort, error) {
	i, err := parseLevel(effortNames, "reasoning effort", s)
	return Effort(i), err
}

func (e Effort) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Effort) UnmarshalText(b []byte) error {
	v, err := ParseEffort(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Verbosity is how detailed the oracle's rationale should be.
// Ordered: Low < Medium < High.
type Verbosity int

const (
	VerbosityLow Verbosity = iota
	VerbosityMedium
	VerbosityHigh
)

var verbosityNames = []string{"low", "medium", "high"}

func (v Verbosity) String() string { return levelName(verbosityNames, int(v)) }

// ParseVerbosity parses a verbosity name.
func ParseVerbosity(s string) (Verbosity, error) {
	i, err := parseLevel(verbosityNames, "verbosity", s)
	return Verbosity(i), err
}

func (v Verbosity) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Verbosity) UnmarshalText(b []byte) error {
	p, err := ParseVerbosity(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// MaxTokens is the completion budget granted at this verbosity.
func (v Verbosity) MaxTokens() int {
	switch v {
	case VerbosityHigh:
		return 3000
	case VerbosityMedium:
		return 1500
	default:
		return 500
	}
}

func levelName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "unknown"
	}
	return names[i]
}

func parseLevel(names []string, kind, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("payment: unknown %s %q", kind, s)
}

// -----------------------------------------------------------------------------
// Decision type
// -----------------------------------------------------------------------------

// DecisionType classifies an attempt by its position in the retry budget.
type DecisionType string

const (
	DecisionPrimary   DecisionType = "primary"
	DecisionFallback  DecisionType = "fallback"
	DecisionEmergency DecisionType = "emergency"
)

// DecisionTypeFor returns Primary for the first attempt, Emergency for the
// last one and Fallback in between.
func DecisionTypeFor(attempts, maxAttempts int) DecisionType {
	switch {
	case attempts == 0:
		return DecisionPrimary
	case attempts < maxAttempts-1:
		return DecisionFallback
	default:
		return DecisionEmergency
	}
}
