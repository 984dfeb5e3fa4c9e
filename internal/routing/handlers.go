package routing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/idgen"
	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/validation"
)

// Handler provides HTTP handlers for routing payments.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new routing handler
func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// RegisterRoutes sets up the routing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/route", h.RoutePayment)
	r.GET("/routing/preview", h.Preview)
}

// RouteRequest is the body of POST /payments/route.
type RouteRequest struct {
	PaymentID        string             `json:"paymentId"`
	Amount           string             `json:"amount" binding:"required"`
	Currency         string             `json:"currency" binding:"required"`
	MerchantID       string             `json:"merchantId" binding:"required"`
	Description      string             `json:"description"`
	RiskIndicators   map[string]float64 `json:"riskIndicators"`
	BusinessPriority string             `json:"businessPriority"`
	Urgency          string             `json:"urgency"`
	MaxAttempts      int                `json:"maxAttempts"`
}

// RoutePayment handles POST /payments/route
func (h *Handler) RoutePayment(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount, currency and merchantId are required",
		})
		return
	}
	if req.MaxAttempts < 0 || req.MaxAttempts > 10 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "maxAttempts must be between 1 and 10",
		})
		return
	}

	if errs := validation.Validate(
		validation.Identifier("paymentId", req.PaymentID),
		validation.Identifier("merchantId", req.MerchantID),
		validation.MaxLength("description", req.Description, validation.MaxDescriptionLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, priority, urgency, ok := parsePayment(c, paymentInput{
		ID:          req.PaymentID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		MerchantID:  req.MerchantID,
		Description: validation.SanitizeString(req.Description, validation.MaxDescriptionLength),
		Risk:        req.RiskIndicators,
		Priority:    req.BusinessPriority,
		Urgency:     req.Urgency,
	})
	if !ok {
		return
	}

	ctx := logging.WithPaymentID(c.Request.Context(), tx.ID)
	out, err := h.engine.Route(ctx, Request{
		Transaction: tx,
		Priority:    priority,
		Urgency:     urgency,
		MaxAttempts: req.MaxAttempts,
	})
	if err == nil {
		c.JSON(http.StatusOK, out)
		return
	}

	var rerr *RoutingError
	switch {
	case out == nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": err.Error(),
		})
	case errors.As(err, &rerr) && (errors.Is(err, ErrAttemptsExhausted) || errors.Is(err, ErrNoProcessorAvailable)):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "routing_failed",
			"message":  err.Error(),
			"outcome":  out,
			"attempts": out.Attempts,
		})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "aborted",
			"message": err.Error(),
			"outcome": out,
		})
	}
}

// Preview handles GET /routing/preview?amount=&currency=&merchantId=&priority=&urgency=
func (h *Handler) Preview(c *gin.Context) {
	tx, priority, urgency, ok := parsePayment(c, paymentInput{
		ID:         c.Query("paymentId"),
		Amount:     c.Query("amount"),
		Currency:   c.DefaultQuery("currency", "USD"),
		MerchantID: c.DefaultQuery("merchantId", "preview"),
		Priority:   c.Query("priority"),
		Urgency:    c.Query("urgency"),
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.engine.Preview(tx, priority, urgency))
}

type paymentInput struct {
	ID          string
	Amount      string
	Currency    string
	MerchantID  string
	Description string
	Risk        map[string]float64
	Priority    string
	Urgency     string
}

// parsePayment validates in and writes a 400 response on failure.
func parsePayment(c *gin.Context, in paymentInput) (payment.Transaction, payment.BusinessPriority, payment.Urgency, bool) {
	amt, err := decimal.NewFromString(in.Amount)
	if err != nil {
		badRequest(c, "invalid_amount", "amount must be a decimal string")
		return payment.Transaction{}, "", 0, false
	}
	tx, err := payment.NewTransaction(payment.TransactionParams{
		ID:          in.ID,
		Amount:      amt,
		Currency:    in.Currency,
		MerchantID:  in.MerchantID,
		Description: in.Description,
		Risk:        in.Risk,
	}, func() string { return idgen.WithPrefix(idgen.PaymentPrefix) })
	if err != nil {
		code := "invalid_request"
		switch {
		case errors.Is(err, payment.ErrInvalidAmount):
			code = "invalid_amount"
		case errors.Is(err, payment.ErrInvalidCurrency):
			code = "invalid_currency"
		}
		badRequest(c, code, err.Error())
		return payment.Transaction{}, "", 0, false
	}
	p, err := payment.ParseBusinessPriority(in.Priority)
	if err != nil {
		badRequest(c, "invalid_priority", err.Error())
		return payment.Transaction{}, "", 0, false
	}
	u, err := payment.ParseUrgency(in.Urgency)
	if err != nil {
		badRequest(c, "invalid_urgency", err.Error())
		return payment.Transaction{}, "", 0, false
	}
	return tx, p, u, true
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   code,
		"message": msg,
	})
}
