package routing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payroute/internal/processor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(e *Engine) *gin.Engine {
	r := gin.New()
	NewHandler(e).RegisterRoutes(r.Group("/v1"))
	return r
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RoutePayment(t *testing.T) {
	f := newFixture(t, nil, Config{})
	r := setupRouter(f.engine)

	w := postJSON(r, "/v1/payments/route", RouteRequest{
		PaymentID:        "pay_http",
		Amount:           "50.00",
		Currency:         "usd",
		MerchantID:       "merchant_1",
		RiskIndicators:   map[string]float64{"risk_score": 2},
		BusinessPriority: "reliability",
		Urgency:          "routine",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "pay_http", out.PaymentID)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, "A", out.ProcessorUsed)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, "minimal", out.Attempts[0].Effort.String())
}

func TestHandler_RoutePayment_GeneratesID(t *testing.T) {
	f := newFixture(t, nil, Config{})
	r := setupRouter(f.engine)

	w := postJSON(r, "/v1/payments/route", RouteRequest{Amount: "10.00", Currency: "EUR", MerchantID: "m"})
	require.Equal(t, http.StatusOK, w.Code)

	var out Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Regexp(t, `^pay_[0-9a-f]{32}$`, out.PaymentID)
}

func TestHandler_RoutePayment_Exhausted(t *testing.T) {
	f := newFixture(t, nil, Config{}, failing("A"), failing("B"), failing("C"))
	r := setupRouter(f.engine)

	w := postJSON(r, "/v1/payments/route", RouteRequest{PaymentID: "pay_fail", Amount: "10.00", Currency: "USD", MerchantID: "m"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Error    string          `json:"error"`
		Message  string          `json:"message"`
		Attempts []AttemptRecord `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "routing_failed", body.Error)
	assert.Contains(t, body.Message, "attempts exhausted")
	require.Len(t, body.Attempts, 3)
	for _, a := range body.Attempts {
		assert.NotEmpty(t, a.Rationale)
		assert.Equal(t, processor.StatusFailed, a.Result.Status)
	}
}

func TestHandler_RoutePayment_BadRequests(t *testing.T) {
	f := newFixture(t, nil, Config{})
	r := setupRouter(f.engine)

	tests := []struct {
		name string
		body RouteRequest
		code string
	}{
		{"missing fields", RouteRequest{Amount: "10.00"}, "invalid_request"},
		{"bad amount", RouteRequest{Amount: "ten", Currency: "USD", MerchantID: "m"}, "invalid_amount"},
		{"negative amount", RouteRequest{Amount: "-1.00", Currency: "USD", MerchantID: "m"}, "invalid_amount"},
		{"fractional cents", RouteRequest{Amount: "1.001", Currency: "USD", MerchantID: "m"}, "invalid_amount"},
		{"bad currency", RouteRequest{Amount: "1.00", Currency: "dollars", MerchantID: "m"}, "invalid_currency"},
		{"bad priority", RouteRequest{Amount: "1.00", Currency: "USD", MerchantID: "m", BusinessPriority: "vibes"}, "invalid_priority"},
		{"bad urgency", RouteRequest{Amount: "1.00", Currency: "USD", MerchantID: "m", Urgency: "asap"}, "invalid_urgency"},
		{"too many attempts", RouteRequest{Amount: "1.00", Currency: "USD", MerchantID: "m", MaxAttempts: 11}, "invalid_request"},
		{"bad merchant id", RouteRequest{Amount: "1.00", Currency: "USD", MerchantID: "m;drop"}, "invalid_request"},
		{"bad payment id", RouteRequest{PaymentID: "pay 1", Amount: "1.00", Currency: "USD", MerchantID: "m"}, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, "/v1/payments/route", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestHandler_Preview(t *testing.T) {
	f := newFixture(t, nil, Config{})
	r := setupRouter(f.engine)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/routing/preview?amount=1500.00&urgency=routine", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var plan Plan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Equal(t, "medium", plan.Effort.String())
	assert.Equal(t, []string{"A", "B", "C"}, plan.Chain)
	assert.Len(t, plan.Candidates, 3)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/routing/preview?amount=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
