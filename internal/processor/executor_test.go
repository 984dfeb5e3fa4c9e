package processor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/registry"
)

func testTx(t *testing.T, amount string) payment.Transaction {
	t.Helper()
	tx, err := payment.NewTransaction(payment.TransactionParams{
		ID:          "pay_abc",
		Amount:      decimal.RequireFromString(amount),
		Currency:    "usd",
		MerchantID:  "merchant_1",
		Description: "order 42",
	}, nil)
	require.NoError(t, err)
	return tx
}

// stubborn ignores its context.
type stubborn struct{ d time.Duration }

func (s stubborn) ID() string { return "stubborn" }

func (s stubborn) Execute(context.Context, payment.Transaction) (Result, error) {
	time.Sleep(s.d)
	return Result{Status: StatusSuccess}, nil
}

func TestSet_ExecuteUnknown(t *testing.T) {
	s := NewSet(time.Second)
	_, err := s.Execute(context.Background(), "nope", testTx(t, "10.00"))
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestSet_TimeoutBecomesResult(t *testing.T) {
	s := NewSet(20*time.Millisecond, stubborn{d: 500 * time.Millisecond})

	start := time.Now()
	res, err := s.Execute(context.Background(), "stubborn", testTx(t, "10.00"))
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, CodeTimeout, res.ErrorCode)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestSet_CancelIsError(t *testing.T) {
	s := NewSet(time.Second, NewSimulated(SimulatedConfig{ID: "sim", SuccessRate: 1, Latency: 200 * time.Millisecond}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Execute(ctx, "sim", testTx(t, "10.00"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSet_IDsAndCheckers(t *testing.T) {
	s := NewSet(0,
		NewSimulated(SimulatedConfig{ID: "b"}),
		stubborn{},
		NewSimulated(SimulatedConfig{ID: "a"}),
	)
	assert.Equal(t, []string{"a", "b", "stubborn"}, s.IDs())
	checkers := s.Checkers()
	assert.Len(t, checkers, 2)
	assert.Contains(t, checkers, "a")
	assert.NotContains(t, checkers, "stubborn")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		res       Result
		kind      registry.FailureKind
		permanent bool
	}{
		{TimedOut(time.Second), registry.FailureTimeout, false},
		{Failed(CodeAccountFrozen, ""), registry.FailureAccountFrozen, true},
		{Failed("account_closed", ""), registry.FailureAccountFrozen, true},
		{Failed("insufficient_funds", ""), registry.FailureDeclined, false},
		{Failed("card_declined", ""), registry.FailureDeclined, false},
		{Failed("rate_limited", ""), registry.FailureRateLimited, false},
		{Failed(CodeNetwork, ""), registry.FailureNetwork, false},
		{Failed("http_503", ""), registry.FailureProcessor, false},
		{Failed("something_else", ""), registry.FailureUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.res.ErrorCode, func(t *testing.T) {
			kind, permanent := Classify(tt.res)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.permanent, permanent)
		})
	}
}
