package payment

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedID() string { return "pay_fixed" }

func TestNewTransaction_Valid(t *testing.T) {
	risk := map[string]float64{IndicatorRiskScore: 0.2}
	tx, err := NewTransaction(TransactionParams{
		Amount:     decimal.RequireFromString("125.50"),
		Currency:   "usd",
		MerchantID: " m_1 ",
		Risk:       risk,
	}, fixedID)
	require.NoError(t, err)

	assert.Equal(t, "pay_fixed", tx.ID)
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, "m_1", tx.MerchantID)
	assert.Equal(t, int64(12550), tx.MinorUnits())
	assert.InDelta(t, 125.5, tx.AmountFloat(), 1e-9)

	// caller's map is not shared
	risk[IndicatorRiskScore] = 0.9
	v, ok := tx.Indicator(IndicatorRiskScore)
	assert.True(t, ok)
	assert.Equal(t, 0.2, v)

	ind := tx.Indicators()
	ind[IndicatorRiskScore] = 1
	v, _ = tx.Indicator(IndicatorRiskScore)
	assert.Equal(t, 0.2, v)
}

func TestNewTransaction_Invalid(t *testing.T) {
	cases := []struct {
		name string
		p    TransactionParams
		want error
	}{
		{"zero amount", TransactionParams{Amount: decimal.Zero, Currency: "USD", MerchantID: "m"}, ErrInvalidAmount},
		{"negative", TransactionParams{Amount: decimal.NewFromInt(-5), Currency: "USD", MerchantID: "m"}, ErrInvalidAmount},
		{"sub-cent", TransactionParams{Amount: decimal.RequireFromString("1.001"), Currency: "USD", MerchantID: "m"}, ErrInvalidAmount},
		{"currency", TransactionParams{Amount: decimal.NewFromInt(5), Currency: "US", MerchantID: "m"}, ErrInvalidCurrency},
		{"merchant", TransactionParams{Amount: decimal.NewFromInt(5), Currency: "USD"}, ErrMissingMerchant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTransaction(tc.p, fixedID)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNewTransaction_TrailingZerosAllowed(t *testing.T) {
	_, err := NewTransaction(TransactionParams{
		Amount: decimal.RequireFromString("10.500"), Currency: "EUR", MerchantID: "m", ID: "p1",
	}, nil)
	assert.NoError(t, err)
}

func TestDecisionTypeFor(t *testing.T) {
	assert.Equal(t, DecisionPrimary, DecisionTypeFor(0, 3))
	assert.Equal(t, DecisionFallback, DecisionTypeFor(1, 3))
	assert.Equal(t, DecisionEmergency, DecisionTypeFor(2, 3))
	assert.Equal(t, DecisionPrimary, DecisionTypeFor(0, 1))
	assert.Equal(t, DecisionEmergency, DecisionTypeFor(1, 2))
}

func TestLevels_OrderAndParse(t *testing.T) {
	assert.Less(t, EffortMinimal, EffortLow)
	assert.Less(t, EffortMedium, EffortHigh)
	assert.Less(t, UrgencyElevated, UrgencyCritical)

	e, err := ParseEffort("HIGH")
	require.NoError(t, err)
	assert.Equal(t, EffortHigh, e)

	_, err = ParseVerbosity("extreme")
	assert.Error(t, err)

	u, err := ParseUrgency("")
	require.NoError(t, err)
	assert.Equal(t, UrgencyNormal, u)
	assert.Equal(t, UrgencyCritical, UrgencyElevated.Max(UrgencyCritical))

	assert.Equal(t, 500, VerbosityLow.MaxTokens())
	assert.Equal(t, 1500, VerbosityMedium.MaxTokens())
	assert.Equal(t, 3000, VerbosityHigh.MaxTokens())
	assert.Equal(t, "unknown", Effort(42).String())
}

func TestLevels_JSONUsesNames(t *testing.T) {
	d := RoutingDecision{Effort: EffortMedium, Verbosity: VerbosityHigh}
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"reasoningEffort":"medium"`)
	assert.Contains(t, string(b), `"verbosity":"high"`)
}

func TestParseBusinessPriority(t *testing.T) {
	p, err := ParseBusinessPriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityReliability, p)

	p, err = ParseBusinessPriority("Risk_Minimization")
	require.NoError(t, err)
	assert.Equal(t, PriorityRiskMinimization, p)

	_, err = ParseBusinessPriority("vibes")
	assert.Error(t, err)
}

func TestRoutingContext_FailedSetGrowsWithoutDuplicates(t *testing.T) {
	c := NewRoutingContext(Transaction{ID: "p"}, PriorityCost, UrgencyNormal, 3)
	c.MarkFailed("stripe")
	c.MarkFailed("stripe")
	c.MarkFailed("paypal")

	assert.Equal(t, []string{"stripe", "paypal"}, c.Failed)
	assert.True(t, c.HasFailed("paypal"))
	assert.Len(t, c.FailedSet(), 2)

	cp := c.Clone()
	cp.MarkFailed("visa")
	assert.Len(t, c.Failed, 2)

	c.AttemptCount = 3
	assert.True(t, c.Exhausted())
	assert.Equal(t, 0, c.Remaining())
}

func TestUsage_Add(t *testing.T) {
	u := Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3, CostUSD: 0.5}
	sum := u.Add(u)
	assert.Equal(t, 6, sum.TotalTokens)
	assert.InDelta(t, 1.0, sum.CostUSD, 1e-9)
}
