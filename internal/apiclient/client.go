// Package apiclient is an HTTP client for the payroute API, shared by the
// payroutectl CLI and the MCP server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for connecting to a payroute server.
type Config struct {
	APIURL     string // Base URL, e.g. "http://localhost:8080"
	Token      string // Operator JWT; only admin calls need it
	MerchantID string // Sent as X-Merchant-ID for per-merchant rate limiting
	Timeout    time.Duration
}

// Client is a pure HTTP client for the payroute API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
}

// doRequest makes an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.MerchantID != "" {
		req.Header.Set("X-Merchant-ID", c.cfg.MerchantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		_ = json.Unmarshal(respBody, apiErr)
		return respBody, apiErr
	}

	return json.RawMessage(respBody), nil
}

// RouteRequest is the body of a routing call.
type RouteRequest struct {
	PaymentID        string             `json:"paymentId,omitempty"`
	Amount           string             `json:"amount"`
	Currency         string             `json:"currency"`
	MerchantID       string             `json:"merchantId"`
	Description      string             `json:"description,omitempty"`
	RiskIndicators   map[string]float64 `json:"riskIndicators,omitempty"`
	BusinessPriority string             `json:"businessPriority,omitempty"`
	Urgency          string             `json:"urgency,omitempty"`
	MaxAttempts      int                `json:"maxAttempts,omitempty"`
}

// RoutePayment routes a payment. A payment that exhausts its attempts
// returns the outcome body together with an *APIError.
func (c *Client) RoutePayment(ctx context.Context, r RouteRequest) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/payments/route", nil, r)
}

// Preview returns the plan a fresh route of the payment would start with.
func (c *Client) Preview(ctx context.Context, amount, currency, priority, urgency string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("amount", amount)
	setIf(q, "currency", currency)
	setIf(q, "priority", priority)
	setIf(q, "urgency", urgency)
	return c.doRequest(ctx, http.MethodGet, "/v1/routing/preview", q, nil)
}

// ListProcessors returns every registered processor.
func (c *Client) ListProcessors(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/processors", nil, nil)
}

// GetProcessor returns one processor record.
func (c *Client) GetProcessor(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/processors/"+url.PathEscape(id), nil, nil)
}

// FallbackChain returns routable processor ids in fallback order.
func (c *Client) FallbackChain(ctx context.Context, exclude []string) (json.RawMessage, error) {
	q := url.Values{}
	if len(exclude) > 0 {
		q.Set("exclude", strings.Join(exclude, ","))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/processors/chain", q, nil)
}

// AssessProcessor returns the risk assessment of a processor for an amount.
func (c *Client) AssessProcessor(ctx context.Context, id, amount, currency string) (json.RawMessage, error) {
	q := url.Values{}
	setIf(q, "amount", amount)
	setIf(q, "currency", currency)
	return c.doRequest(ctx, http.MethodGet, "/v1/processors/"+url.PathEscape(id)+"/risk", q, nil)
}

// FreezeProcessor marks a processor frozen.
func (c *Client) FreezeProcessor(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/processors/"+url.PathEscape(id)+"/freeze", nil, nil)
}

// RestoreProcessor lifts a freeze.
func (c *Client) RestoreProcessor(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/processors/"+url.PathEscape(id)+"/restore", nil, nil)
}

// SetMaintenance toggles maintenance mode.
func (c *Client) SetMaintenance(ctx context.Context, id string, enabled bool) (json.RawMessage, error) {
	body := map[string]bool{"enabled": enabled}
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/processors/"+url.PathEscape(id)+"/maintenance", nil, body)
}

// Trail returns a payment's audit events in order.
func (c *Client) Trail(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID)+"/trail", nil, nil)
}

// Report returns a payment's decision report.
func (c *Client) Report(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID)+"/report", nil, nil)
}

// Summary returns the session summary.
func (c *Client) Summary(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/audit/summary", nil, nil)
}

// Events returns one page of audit events.
func (c *Client) Events(ctx context.Context, kind, paymentID, cursor string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	setIf(q, "kind", kind)
	setIf(q, "paymentId", paymentID)
	setIf(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/audit/events", q, nil)
}

// Export returns the session's audit log as JSON lines.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/audit/export", nil, nil)
}

// Whoami returns the operator the token authenticates as.
func (c *Client) Whoami(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/auth/whoami", nil, nil)
}

// CreateWebhook subscribes url to audit event kinds.
func (c *Client) CreateWebhook(ctx context.Context, endpoint string, kinds []string) (json.RawMessage, error) {
	body := map[string]any{"url": endpoint, "kinds": kinds}
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/webhooks", nil, body)
}

// ListWebhooks returns every webhook subscription.
func (c *Client) ListWebhooks(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/webhooks", nil, nil)
}

// DeleteWebhook removes a subscription.
func (c *Client) DeleteWebhook(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/v1/admin/webhooks/"+url.PathEscape(id), nil, nil)
}

// Info returns server metadata.
func (c *Client) Info(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/info", nil, nil)
}

// Health returns the aggregated health report. An unhealthy server returns
// the report together with an *APIError.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
