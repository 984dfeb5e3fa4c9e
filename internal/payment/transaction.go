// Package payment holds the value types shared by the router: transactions,
// routing context, decisions and the ordinal escalation levels.
package payment

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrInvalidAmount   = errors.New("payment: amount must be positive with at most 2 decimal places")
	ErrInvalidCurrency = errors.New("payment: currency must be a 3-letter ISO code")
	ErrMissingMerchant = errors.New("payment: merchant id is required")
	ErrInvalidID       = errors.New("payment: invalid payment id")
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Risk indicator names understood by the prompt builder and heuristic oracle.
const (
	IndicatorRiskScore   = "risk_score"
	IndicatorFreezeRisk  = "freeze_risk"
	IndicatorChargeback  = "chargeback_rate"
	IndicatorCustomerAge = "customer_age_days"
)

// -----------------------------------------------------------------------------
// Transaction
// -----------------------------------------------------------------------------

// Transaction is a payment to be routed. Build it with NewTransaction and
// treat it as read-only afterwards; Indicators returns a copy.
type Transaction struct {
	ID          string             `json:"id"`
	Amount      decimal.Decimal    `json:"amount"`
	Currency    string             `json:"currency"`
	MerchantID  string             `json:"merchantId"`
	Description string             `json:"description,omitempty"`
	Risk        map[string]float64 `json:"riskIndicators,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// TransactionParams are the caller-supplied fields of a transaction.
type TransactionParams struct {
	ID          string
	Amount      decimal.Decimal
	Currency    string
	MerchantID  string
	Description string
	Risk        map[string]float64
}

// NewTransaction validates params and returns an immutable transaction.
// An empty ID is replaced by newID().
func NewTransaction(p TransactionParams, newID func() string) (Transaction, error) {
	if p.Amount.Sign() <= 0 || !p.Amount.Equal(p.Amount.Round(2)) {
		return Transaction{}, fmt.Errorf("%w: %s", ErrInvalidAmount, p.Amount.String())
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if !currencyPattern.MatchString(currency) {
		return Transaction{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, p.Currency)
	}
	merchant := strings.TrimSpace(p.MerchantID)
	if merchant == "" {
		return Transaction{}, ErrMissingMerchant
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		if newID == nil {
			return Transaction{}, ErrInvalidID
		}
		id = newID()
	}
	if len(id) > 128 {
		return Transaction{}, fmt.Errorf("%w: too long", ErrInvalidID)
	}

	var risk map[string]float64
	if len(p.Risk) > 0 {
		risk = maps.Clone(p.Risk)
	}

	return Transaction{
		ID:          id,
		Amount:      p.Amount,
		Currency:    currency,
		MerchantID:  merchant,
		Description: p.Description,
		Risk:        risk,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Indicators returns a copy of the risk indicators.
func (t Transaction) Indicators() map[string]float64 {
	return maps.Clone(t.Risk)
}

// Indicator returns a single risk indicator and whether it was set.
func (t Transaction) Indicator(name string) (float64, bool) {
	v, ok := t.Risk[name]
	return v, ok
}

// AmountFloat returns the amount as a float64 for scoring thresholds.
func (t Transaction) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// MinorUnits returns the amount in cents.
func (t Transaction) MinorUnits() int64 {
	return t.Amount.Shift(2).IntPart()
}
