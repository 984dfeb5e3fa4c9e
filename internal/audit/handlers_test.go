package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payroute/internal/payment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(l *Log) *gin.Engine {
	r := gin.New()
	h := NewHandler(l)
	h.RegisterRoutes(r.Group("/v1"))
	h.RegisterAdminRoutes(r.Group("/v1/admin"))
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func seeded(t *testing.T) *Log {
	t.Helper()
	l := newTestLog()
	ctx := context.Background()
	l.Append(ctx, DecisionEvent(decision("pay_1", "stripe", 1, payment.EffortLow)))
	l.Append(ctx, OutcomeEvent("pay_1", Outcome{Status: "succeeded", ProcessorUsed: "stripe", Attempts: 1}))
	return l
}

func TestHandler_GetTrail(t *testing.T) {
	r := setupRouter(seeded(t))

	w := get(r, "/v1/payments/pay_1/trail")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		PaymentID string  `json:"paymentId"`
		Count     int     `json:"count"`
		Events    []Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pay_1", body.PaymentID)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, KindDecision, body.Events[0].Kind)
	assert.Equal(t, KindOutcome, body.Events[1].Kind)
}

func TestHandler_GetTrailUnknownIsEmpty(t *testing.T) {
	r := setupRouter(seeded(t))

	w := get(r, "/v1/payments/pay_none/trail")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestHandler_GetReport(t *testing.T) {
	r := setupRouter(seeded(t))

	w := get(r, "/v1/payments/pay_1/report")
	require.Equal(t, http.StatusOK, w.Code)
	var rep Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Decisions)
	require.NotNil(t, rep.Outcome)
	assert.Equal(t, "succeeded", rep.Outcome.Status)

	w = get(r, "/v1/payments/pay_none/report")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestHandler_SummaryAndExport(t *testing.T) {
	r := setupRouter(seeded(t))

	w := get(r, "/v1/audit/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var s Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 2, s.TotalEvents)
	assert.Equal(t, 1, s.Succeeded)

	w = get(r, "/v1/admin/audit/export")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "session_start")
}

func TestHandler_ListEventsPaginates(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		l.Append(ctx, DecisionEvent(decision("pay_1", "stripe", i, payment.EffortLow)))
		l.Append(ctx, FailureEvent("pay_1", Failure{ProcessorID: "stripe", Attempt: i, Status: "failed"}))
	}
	l.Append(ctx, OutcomeEvent("pay_2", Outcome{Status: "succeeded", ProcessorUsed: "visa", Attempts: 1}))
	r := setupRouter(l)

	type page struct {
		Events     []Event `json:"events"`
		Count      int     `json:"count"`
		NextCursor string  `json:"nextCursor"`
		HasMore    bool    `json:"hasMore"`
	}
	read := func(path string) page {
		w := get(r, path)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var p page
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		return p
	}

	p := read("/v1/audit/events?limit=4")
	assert.Equal(t, 4, p.Count)
	assert.True(t, p.HasMore)
	assert.Equal(t, int64(1), p.Events[0].Seq)

	p = read("/v1/audit/events?limit=4&cursor=" + p.NextCursor)
	assert.Equal(t, 3, p.Count)
	assert.False(t, p.HasMore)
	assert.Equal(t, int64(5), p.Events[0].Seq)

	p = read("/v1/audit/events?kind=processor_failure")
	assert.Equal(t, 3, p.Count)
	for _, e := range p.Events {
		assert.Equal(t, KindFailure, e.Kind)
	}

	p = read("/v1/audit/events?paymentId=pay_2")
	require.Equal(t, 1, p.Count)
	assert.Equal(t, KindOutcome, p.Events[0].Kind)
}

func TestHandler_ListEventsRejectsBadInput(t *testing.T) {
	r := setupRouter(seeded(t))

	w := get(r, "/v1/audit/events?cursor=not-a-cursor")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(r, "/v1/audit/events?kind=nonsense")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_kind")
}
