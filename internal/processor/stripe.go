package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mbd888/payroute/internal/payment"
)

// StripeConfig configures a StripeExecutor.
type StripeConfig struct {
	ID     string // processor id, default "stripe"
	APIKey string
	// PaymentMethod confirms the intent server-side, e.g. "pm_card_visa"
	// in test mode.
	PaymentMethod string
	// FeePercentage and FeeFixed estimate the fee; the intent itself does
	// not carry it.
	FeePercentage float64
	FeeFixed      decimal.Decimal
	// Backend overrides the API backend (tests point it at httptest).
	Backend stripe.Backend
}

// StripeExecutor creates and confirms a PaymentIntent per payment.
type StripeExecutor struct {
	cfg StripeConfig
	api *client.API
}

// NewStripeExecutor creates an executor using its own client, so several
// Stripe accounts can coexist.
func NewStripeExecutor(cfg StripeConfig) *StripeExecutor {
	if cfg.ID == "" {
		cfg.ID = "stripe"
	}
	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = "pm_card_visa"
	}

	var backends *stripe.Backends
	if cfg.Backend != nil {
		backends = &stripe.Backends{API: cfg.Backend, Connect: cfg.Backend, Uploads: cfg.Backend}
	}
	api := &client.API{}
	api.Init(cfg.APIKey, backends)
	return &StripeExecutor{cfg: cfg, api: api}
}

func (s *StripeExecutor) ID() string { return s.cfg.ID }

func (s *StripeExecutor) Execute(ctx context.Context, tx payment.Transaction) (Result, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(tx.MinorUnits()),
		Currency:      stripe.String(strings.ToLower(tx.Currency)),
		PaymentMethod: stripe.String(s.cfg.PaymentMethod),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(tx.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(tx.ID)
	params.AddMetadata("payment_id", tx.ID)
	params.AddMetadata("merchant_id", tx.MerchantID)

	start := time.Now()
	pi, err := s.api.PaymentIntents.New(params)
	latency := time.Since(start)
	if err != nil {
		res, perr := stripeFailure(ctx, err)
		res.Latency = latency
		return res, perr
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		pct := decimal.NewFromFloat(s.cfg.FeePercentage).Div(decimal.NewFromInt(100))
		return Result{
			Status:       StatusSuccess,
			ProcessorRef: pi.ID,
			FeeCharged:   tx.Amount.Mul(pct).Add(s.cfg.FeeFixed).Round(2),
			Latency:      latency,
		}, nil
	default:
		res := Failed(CodeDeclined, fmt.Sprintf("payment intent %s is %s", pi.ID, pi.Status))
		res.ProcessorRef = pi.ID
		res.Latency = latency
		return res, nil
	}
}

// stripeFailure turns a client error into a result. Only cancellation is
// returned as an error.
func stripeFailure(ctx context.Context, err error) (Result, error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return Result{}, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut(0), nil
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		return Failed(CodeNetwork, err.Error()), nil
	}

	code := string(se.Code)
	switch {
	case se.DeclineCode != "":
		code = string(se.DeclineCode)
	case se.HTTPStatusCode == 429:
		code = CodeRateLimited
	case se.Type == stripe.ErrorTypeAPI || se.HTTPStatusCode >= 500:
		code = CodeProcessor
	case se.HTTPStatusCode == 401 || se.HTTPStatusCode == 403:
		code = "api_key_expired"
	case code == "":
		code = string(se.Type)
	}
	return Failed(code, se.Msg), nil
}
