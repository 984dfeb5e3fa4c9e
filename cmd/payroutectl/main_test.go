package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payroute/internal/apiclient"
	"github.com/mbd888/payroute/internal/auth"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func fakeAPI(t *testing.T, status int, response string, got *recorded) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands_CallExpectedEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		method string
		path   string
		query  string
	}{
		{"processors list", []string{"processors", "list"}, http.MethodGet, "/v1/processors", ""},
		{"processors get", []string{"processors", "get", "stripe"}, http.MethodGet, "/v1/processors/stripe", ""},
		{"processors chain", []string{"proc", "chain", "-x", "stripe,paypal"}, http.MethodGet, "/v1/processors/chain", "exclude=stripe%2Cpaypal"},
		{"processors risk", []string{"processors", "risk", "visa", "--amount", "5000"}, http.MethodGet, "/v1/processors/visa/risk", "amount=5000"},
		{"processors freeze", []string{"processors", "freeze", "paypal"}, http.MethodPost, "/v1/admin/processors/paypal/freeze", ""},
		{"processors restore", []string{"processors", "restore", "paypal"}, http.MethodPost, "/v1/admin/processors/paypal/restore", ""},
		{"processors maintenance", []string{"processors", "maintenance", "square"}, http.MethodPost, "/v1/admin/processors/square/maintenance", ""},
		{"preview", []string{"preview", "7500", "EUR", "-p", "cost"}, http.MethodGet, "/v1/routing/preview", ""},
		{"audit trail", []string{"audit", "trail", "pay_1"}, http.MethodGet, "/v1/payments/pay_1/trail", ""},
		{"audit report", []string{"audit", "report", "pay_1"}, http.MethodGet, "/v1/payments/pay_1/report", ""},
		{"audit summary", []string{"audit", "summary"}, http.MethodGet, "/v1/audit/summary", ""},
		{"audit events", []string{"audit", "events", "-k", "failure", "-n", "5"}, http.MethodGet, "/v1/audit/events", "kind=failure&limit=5"},
		{"webhooks list", []string{"webhooks", "list"}, http.MethodGet, "/v1/admin/webhooks", ""},
		{"webhooks delete", []string{"webhooks", "delete", "wh_1"}, http.MethodDelete, "/v1/admin/webhooks/wh_1", ""},
		{"whoami", []string{"whoami"}, http.MethodGet, "/v1/admin/auth/whoami", ""},
		{"info", []string{"info"}, http.MethodGet, "/v1/info", ""},
		{"health", []string{"health"}, http.MethodGet, "/health", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got recorded
			url := fakeAPI(t, http.StatusOK, `{"ok":true}`, &got)

			out, err := run(t, append([]string{"--api-url", url, "--token", "tok"}, tt.args...)...)
			require.NoError(t, err)

			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.path, got.path)
			if tt.query != "" {
				assert.Equal(t, tt.query, got.query)
			}
			assert.Equal(t, "Bearer tok", got.auth)
			assert.Contains(t, out, `"ok": true`)
		})
	}
}

func TestPreview_DefaultsCurrency(t *testing.T) {
	var got recorded
	url := fakeAPI(t, http.StatusOK, `{}`, &got)

	_, err := run(t, "--api-url", url, "preview", "100")
	require.NoError(t, err)
	assert.Contains(t, got.query, "currency=USD")
	assert.Contains(t, got.query, "amount=100")
}

func TestRoute_SendsRequestBody(t *testing.T) {
	var got recorded
	url := fakeAPI(t, http.StatusOK, `{"status":"succeeded","processorUsed":"stripe"}`, &got)

	out, err := run(t, "--api-url", url, "--merchant", "m_1",
		"route", "149.99", "USD", "-p", "speed", "-u", "elevated", "-n", "2", "--risk", "velocity=0.4")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v1/payments/route", got.path)
	assert.Equal(t, "149.99", got.body["amount"])
	assert.Equal(t, "USD", got.body["currency"])
	assert.Equal(t, "m_1", got.body["merchantId"])
	assert.Equal(t, "speed", got.body["businessPriority"])
	assert.Equal(t, "elevated", got.body["urgency"])
	assert.Equal(t, float64(2), got.body["maxAttempts"])
	assert.Equal(t, map[string]any{"velocity": 0.4}, got.body["riskIndicators"])
	assert.Contains(t, out, `"processorUsed": "stripe"`)
}

func TestRoute_ExhaustedPrintsOutcomeAndFails(t *testing.T) {
	var got recorded
	url := fakeAPI(t, http.StatusUnprocessableEntity,
		`{"error":"routing_failed","message":"all attempts failed","outcome":{"status":"exhausted"}}`, &got)

	out, err := run(t, "--api-url", url, "route", "10", "USD")
	require.Error(t, err)

	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, out, `"status": "exhausted"`)
}

func TestRoute_RejectsBadRiskIndicator(t *testing.T) {
	var got recorded
	url := fakeAPI(t, http.StatusOK, `{}`, &got)

	_, err := run(t, "--api-url", url, "route", "10", "USD", "--risk", "velocity=high")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "velocity")
	assert.Empty(t, got.method)
}

func TestRoute_RequiresAmountAndCurrency(t *testing.T) {
	_, err := run(t, "route", "10")
	require.Error(t, err)
}

func TestWebhooksCreate(t *testing.T) {
	var got recorded
	url := fakeAPI(t, http.StatusCreated, `{"id":"wh_1"}`, &got)

	out, err := run(t, "--api-url", url, "webhooks", "create", "https://hooks.example.com/a", "-k", "failure,outcome")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "https://hooks.example.com/a", got.body["url"])
	assert.Equal(t, []any{"failure", "outcome"}, got.body["kinds"])
	assert.Contains(t, out, "wh_1")
}

func TestMaintenanceOff(t *testing.T) {
	var got recorded
	url := fakeAPI(t, http.StatusOK, `{}`, &got)

	_, err := run(t, "--api-url", url, "processors", "maintenance", "square", "--off")
	require.NoError(t, err)
	assert.Equal(t, false, got.body["enabled"])
}

func TestAuditExport_WritesRawLines(t *testing.T) {
	var got recorded
	lines := "{\"seq\":1}\n{\"seq\":2}\n"
	url := fakeAPI(t, http.StatusOK, lines, &got)

	out, err := run(t, "--api-url", url, "audit", "export")
	require.NoError(t, err)
	assert.Equal(t, lines, out)
}

func TestHealth_UnhealthyPrintsReport(t *testing.T) {
	var got recorded
	url := fakeAPI(t, http.StatusServiceUnavailable, `{"status":"unhealthy"}`, &got)

	out, err := run(t, "--api-url", url, "health")
	require.Error(t, err)
	assert.Contains(t, out, `"status": "unhealthy"`)
}

func TestToken_MintsVerifiableToken(t *testing.T) {
	secret := strings.Repeat("s", 32)

	out, err := run(t, "token", "ops-alice", "--secret", secret)
	require.NoError(t, err)

	claims, err := auth.NewManager(secret).Authenticate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops-alice", claims.Operator)
}

func TestToken_NeedsSecret(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")

	_, err := run(t, "token", "ops-alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNoSecret)
}

func TestParseRiskIndicators(t *testing.T) {
	got, err := parseRiskIndicators(map[string]string{"velocity": "0.4", "geo": "1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"velocity": 0.4, "geo": 1}, got)

	got, err = parseRiskIndicators(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
