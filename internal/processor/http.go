package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/payment"
)

const maxResponseSize = 1 << 20

// HTTPExecutor posts payments to a processor's JSON API:
//
//	POST {endpoint}/payments              -> 2xx on success
//	GET  {endpoint}/payments/service-health -> {"failing": bool, "minResponseTime": ms}
type HTTPExecutor struct {
	id       string
	endpoint string
	apiKey   string
	client   *http.Client
}

type forwardedPayment struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	MerchantID    string          `json:"merchantId"`
	RequestedAt   string          `json:"requestedAt"`
}

type processorResponse struct {
	ID        string           `json:"id"`
	Reference string           `json:"reference"`
	Fee       *decimal.Decimal `json:"fee"`
	ErrorCode string           `json:"errorCode"`
	Code      string           `json:"code"`
	Message   string           `json:"message"`
}

type serviceHealth struct {
	Failing         bool  `json:"failing"`
	MinResponseTime int64 `json:"minResponseTime"`
}

// NewHTTPExecutor creates an executor for the processor at endpoint. The
// client's own timeout is left unset; Set bounds every call.
func NewHTTPExecutor(id, endpoint, apiKey string, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPExecutor{
		id:       id,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

func (h *HTTPExecutor) ID() string { return h.id }

func (h *HTTPExecutor) Execute(ctx context.Context, tx payment.Transaction) (Result, error) {
	body, err := json.Marshal(forwardedPayment{
		CorrelationID: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		MerchantID:    tx.MerchantID,
		RequestedAt:   time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal payment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/payments", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", tx.ID)
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res := TimedOut(latency)
			res.Latency = latency
			return res, nil
		}
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		res := Failed(CodeNetwork, err.Error())
		res.Latency = latency
		return res, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	var parsed processorResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res := Result{Status: StatusSuccess, Latency: latency, ProcessorRef: parsed.Reference}
		if res.ProcessorRef == "" {
			res.ProcessorRef = parsed.ID
		}
		if parsed.Fee != nil {
			res.FeeCharged = *parsed.Fee
		}
		return res, nil
	}

	code := parsed.ErrorCode
	if code == "" {
		code = parsed.Code
	}
	if code == "" {
		code = statusCode(resp.StatusCode)
	}
	msg := parsed.Message
	if msg == "" {
		msg = fmt.Sprintf("processor returned HTTP %d", resp.StatusCode)
	}
	res := Failed(code, msg)
	res.Latency = latency
	return res, nil
}

func statusCode(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusPaymentRequired:
		return CodeDeclined
	case status >= 500:
		return fmt.Sprintf("http_%d", status)
	default:
		return CodeInvalidRequest
	}
}

// Check calls the processor's service-health endpoint.
func (h *HTTPExecutor) Check(ctx context.Context) Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"/payments/service-health", nil)
	if err != nil {
		return Health{Detail: err.Error()}
	}
	start := time.Now()
	resp, err := h.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Health{Latency: latency, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{Latency: latency, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	var sh serviceHealth
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&sh); err != nil {
		// a 200 without a body still means reachable
		return Health{Healthy: true, Latency: latency}
	}
	if sh.MinResponseTime > 0 {
		latency = time.Duration(sh.MinResponseTime) * time.Millisecond
	}
	return Health{Healthy: !sh.Failing, Latency: latency}
}
