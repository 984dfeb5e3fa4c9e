// Package registry tracks live health of payment processors and derives
// the fallback chains the router walks when a processor fails.
package registry

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/payment"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrProcessorNotFound = errors.New("registry: processor not found")
	ErrProcessorExists   = errors.New("registry: processor already registered")
	ErrInvalidProcessor  = errors.New("registry: invalid processor definition")
)

// -----------------------------------------------------------------------------
// Status and kinds
// -----------------------------------------------------------------------------

// Status is the operational state of a processor.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusFrozen      Status = "frozen"
	StatusMaintenance Status = "maintenance"
)

// Routable reports whether a processor in this status may be selected.
func (s Status) Routable() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// Kind is the payment rail a processor runs on.
type Kind string

const (
	KindCard         Kind = "card"
	KindWallet       Kind = "wallet"
	KindBankTransfer Kind = "bank_transfer"
	KindCrypto       Kind = "crypto"
)

// FailureKind classifies an execution failure.
type FailureKind string

const (
	FailureDeclined      FailureKind = "declined"
	FailureTimeout       FailureKind = "timeout"
	FailureProcessor     FailureKind = "processor_error"
	FailureNetwork       FailureKind = "network_error"
	FailureAccountFrozen FailureKind = "account_frozen"
	FailureRateLimited   FailureKind = "rate_limited"
	FailureUnknown       FailureKind = "unknown"
)

// -----------------------------------------------------------------------------
// Processor record
// -----------------------------------------------------------------------------

// Metrics are the rolling health numbers for a processor.
type Metrics struct {
	SuccessRate         float64    `json:"successRate"`       // 0..1
	AvgResponseTimeMs   float64    `json:"avgResponseTimeMs"` // EWMA
	FailureCount24h     int        `json:"failureCount24h"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	FreezeRiskScore     float64    `json:"freezeRiskScore"`  // 0..10
	UptimePercentage    float64    `json:"uptimePercentage"` // 0..100
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
}

// Fees is a processor's pricing: Percentage of the amount plus Fixed.
type Fees struct {
	Percentage float64         `json:"percentage"` // e.g. 2.9 for 2.9%
	Fixed      decimal.Decimal `json:"fixed"`
}

// Estimate returns the fee for amount, rounded to cents.
func (f Fees) Estimate(amount decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat(f.Percentage).Div(decimal.NewFromInt(100))
	return amount.Mul(pct).Add(f.Fixed).Round(2)
}

// Capabilities bound what a processor accepts. Zero limits mean unbounded
// and an empty currency list accepts any currency.
type Capabilities struct {
	Currencies []string        `json:"currencies,omitempty"`
	MinAmount  decimal.Decimal `json:"minAmount"`
	MaxAmount  decimal.Decimal `json:"maxAmount"`
}

// Supports reports whether the transaction fits these capabilities.
func (c Capabilities) Supports(tx payment.Transaction) bool {
	return c.SupportsCurrency(tx.Currency) && c.WithinLimits(tx.Amount)
}

// SupportsCurrency reports whether currency is accepted.
func (c Capabilities) SupportsCurrency(currency string) bool {
	if len(c.Currencies) == 0 {
		return true
	}
	return slices.ContainsFunc(c.Currencies, func(s string) bool { return strings.EqualFold(s, currency) })
}

// WithinLimits reports whether amount is inside the configured limits.
func (c Capabilities) WithinLimits(amount decimal.Decimal) bool {
	if c.MinAmount.IsPositive() && amount.LessThan(c.MinAmount) {
		return false
	}
	if c.MaxAmount.IsPositive() && amount.GreaterThan(c.MaxAmount) {
		return false
	}
	return true
}

// ProcessorRecord is everything the router knows about one processor.
type ProcessorRecord struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Kind         Kind         `json:"kind"`
	Status       Status       `json:"status"`
	Priority     int          `json:"fallbackPriority"` // lower is preferred
	Metrics      Metrics      `json:"metrics"`
	Fees         Fees         `json:"fees"`
	Capabilities Capabilities `json:"capabilities"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (r ProcessorRecord) clone() ProcessorRecord {
	out := r
	out.Capabilities.Currencies = slices.Clone(r.Capabilities.Currencies)
	if r.Metrics.LastFailureAt != nil {
		t := *r.Metrics.LastFailureAt
		out.Metrics.LastFailureAt = &t
	}
	if r.Metrics.LastSuccessAt != nil {
		t := *r.Metrics.LastSuccessAt
		out.Metrics.LastSuccessAt = &t
	}
	return out
}

func (r ProcessorRecord) validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return errors.Join(ErrInvalidProcessor, errors.New("id is required"))
	case r.Priority <= 0:
		return errors.Join(ErrInvalidProcessor, errors.New("fallback priority must be positive"))
	case r.Metrics.SuccessRate < 0 || r.Metrics.SuccessRate > 1:
		return errors.Join(ErrInvalidProcessor, errors.New("success rate must be within [0,1]"))
	case r.Metrics.FreezeRiskScore < 0 || r.Metrics.FreezeRiskScore > 10:
		return errors.Join(ErrInvalidProcessor, errors.New("freeze risk must be within [0,10]"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot is a point-in-time copy of the registry. Order is registration
// order and is what the deterministic fallback rule indexes into.
type Snapshot struct {
	Records map[string]ProcessorRecord `json:"processors"`
	Order   []string                   `json:"order"`
	TakenAt time.Time                  `json:"takenAt"`
}

// Get returns the record for id.
func (s Snapshot) Get(id string) (ProcessorRecord, bool) {
	r, ok := s.Records[id]
	return r, ok
}

// List returns records in registration order.
func (s Snapshot) List() []ProcessorRecord {
	out := make([]ProcessorRecord, 0, len(s.Order))
	for _, id := range s.Order {
		out = append(out, s.Records[id])
	}
	return out
}

// Usable returns routable records not in excluding, in registration order.
func (s Snapshot) Usable(excluding map[string]struct{}) []ProcessorRecord {
	var out []ProcessorRecord
	for _, id := range s.Order {
		if _, skip := excluding[id]; skip {
			continue
		}
		if r := s.Records[id]; r.Status.Routable() {
			out = append(out, r)
		}
	}
	return out
}

// Chain returns routable processor ids not in excluding, ordered by
// priority, then success rate (desc), then latency, then id.
func (s Snapshot) Chain(excluding map[string]struct{}) []string {
	recs := s.Usable(excluding)
	sort.SliceStable(recs, func(i, j int) bool { return chainLess(recs[i], recs[j]) })
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func chainLess(a, b ProcessorRecord) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Metrics.SuccessRate != b.Metrics.SuccessRate {
		return a.Metrics.SuccessRate > b.Metrics.SuccessRate
	}
	if a.Metrics.AvgResponseTimeMs != b.Metrics.AvgResponseTimeMs {
		return a.Metrics.AvgResponseTimeMs < b.Metrics.AvgResponseTimeMs
	}
	return a.ID < b.ID
}

// Transition describes a status change.
type Transition struct {
	ProcessorID string    `json:"processorId"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}
