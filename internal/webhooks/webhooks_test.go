package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payroute/internal/audit"
	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/retry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestDispatcher skips SSRF checks for loopback test servers and
// retries without delay.
func newTestDispatcher(store Store) *Dispatcher {
	return NewDispatcher(store,
		WithURLValidator(func(string) error { return nil }),
		WithRetry(retry.Policy{MaxAttempts: 3}),
		WithLogger(logging.Discard()),
	)
}

func failureEvent(seq int64) audit.Event {
	e := audit.FailureEvent("pay_1", audit.Failure{ProcessorID: "stripe", Attempt: 1, Status: "failed", ErrorCode: "card_declined"})
	e.Seq = seq
	e.ID = "evt_test"
	return e
}

type receiver struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	statuses []int // served in order, then 200
	calls    atomic.Int32
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	n := int(r.calls.Add(1))
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.headers = append(r.headers, req.Header.Clone())
	status := http.StatusOK
	if n <= len(r.statuses) {
		status = r.statuses[n-1]
	}
	r.mu.Unlock()
	w.WriteHeader(status)
}

func subscribe(t *testing.T, store Store, id, url string, kinds ...audit.Kind) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &Subscription{
		ID: id, URL: url, Secret: "whsec_test", Kinds: kinds, Active: true, CreatedAt: time.Now(),
	}))
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	subscribe(t, store, "wh_1", "https://example.com/hook", audit.KindFailure)
	assert.Error(t, store.Create(ctx, &Subscription{ID: "wh_1"}), "duplicate id")

	got, err := store.Get(ctx, "wh_1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", got.URL)

	// Returned values are copies.
	got.URL = "https://mutated.example"
	again, _ := store.Get(ctx, "wh_1")
	assert.Equal(t, "https://example.com/hook", again.URL)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordResult(ctx, "wh_1", at, ""))
	got, _ = store.Get(ctx, "wh_1")
	require.NotNil(t, got.LastSuccess)
	assert.Equal(t, at, *got.LastSuccess)

	require.NoError(t, store.RecordResult(ctx, "wh_1", at, "status 500"))
	got, _ = store.Get(ctx, "wh_1")
	assert.Equal(t, "status 500", got.LastError)

	require.NoError(t, store.Delete(ctx, "wh_1"))
	_, err = store.Get(ctx, "wh_1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "wh_1"), ErrNotFound)
	assert.ErrorIs(t, store.RecordResult(ctx, "wh_1", at, ""), ErrNotFound)
}

func TestSubscription_Wants(t *testing.T) {
	all := &Subscription{Active: true}
	failures := &Subscription{Active: true, Kinds: []audit.Kind{audit.KindFailure}}
	inactive := &Subscription{Kinds: []audit.Kind{audit.KindFailure}}

	assert.True(t, all.Wants(audit.KindOutcome))
	assert.True(t, failures.Wants(audit.KindFailure))
	assert.False(t, failures.Wants(audit.KindOutcome))
	assert.False(t, inactive.Wants(audit.KindFailure))
}

// ---------------------------------------------------------------------------
// Signing
// ---------------------------------------------------------------------------

func TestSignVerify(t *testing.T) {
	payload := []byte(`{"kind":"processor_failure"}`)
	now := time.Unix(1_770_000_000, 0)
	header := Sign(payload, "whsec_a", now)

	assert.NoError(t, Verify(payload, header, "whsec_a", 5*time.Minute, now.Add(time.Minute)))
	assert.Error(t, Verify(payload, header, "whsec_b", 5*time.Minute, now), "wrong secret")
	assert.Error(t, Verify([]byte(`{}`), header, "whsec_a", 5*time.Minute, now), "tampered body")
	assert.Error(t, Verify(payload, header, "whsec_a", 5*time.Minute, now.Add(time.Hour)), "stale")
	assert.Error(t, Verify(payload, "garbage", "whsec_a", 0, now), "malformed")
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

func TestDispatcher_DeliversMatchingKinds(t *testing.T) {
	failures := &receiver{}
	outcomes := &receiver{}
	srvF := httptest.NewServer(failures)
	defer srvF.Close()
	srvO := httptest.NewServer(outcomes)
	defer srvO.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_f", srvF.URL, audit.KindFailure)
	subscribe(t, store, "wh_o", srvO.URL, audit.KindOutcome)
	d := newTestDispatcher(store)

	e := failureEvent(7)
	require.NoError(t, d.Publish(context.Background(), e))
	d.Wait()

	require.Equal(t, int32(1), failures.calls.Load())
	assert.Equal(t, int32(0), outcomes.calls.Load())

	h := failures.headers[0]
	assert.Equal(t, string(audit.KindFailure), h.Get(HeaderEvent))
	assert.Equal(t, "evt_test", h.Get(HeaderDelivery))
	assert.NoError(t, Verify(failures.bodies[0], h.Get(HeaderSignature), "whsec_test", time.Minute, time.Now()))

	var got audit.Event
	require.NoError(t, json.Unmarshal(failures.bodies[0], &got))
	assert.Equal(t, int64(7), got.Seq)
	assert.Equal(t, "stripe", got.Failure.ProcessorID)

	sub, _ := store.Get(context.Background(), "wh_f")
	assert.NotNil(t, sub.LastSuccess)
	assert.Empty(t, sub.LastError)
}

func TestDispatcher_RetriesServerErrors(t *testing.T) {
	rcv := &receiver{statuses: []int{http.StatusBadGateway, http.StatusServiceUnavailable}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", srv.URL)
	d := newTestDispatcher(store)

	require.NoError(t, d.Publish(context.Background(), failureEvent(1)))
	d.Wait()

	assert.Equal(t, int32(3), rcv.calls.Load())
	sub, _ := store.Get(context.Background(), "wh_1")
	assert.NotNil(t, sub.LastSuccess)
}

func TestDispatcher_ClientErrorIsNotRetried(t *testing.T) {
	rcv := &receiver{statuses: []int{http.StatusGone}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", srv.URL)
	d := newTestDispatcher(store)

	require.NoError(t, d.Publish(context.Background(), failureEvent(1)))
	d.Wait()

	assert.Equal(t, int32(1), rcv.calls.Load())
	sub, _ := store.Get(context.Background(), "wh_1")
	assert.Nil(t, sub.LastSuccess)
	assert.Equal(t, "status 410", sub.LastError)
}

func TestDispatcher_AsAuditSink(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", srv.URL, audit.KindRecovery)
	d := newTestDispatcher(store)

	log := audit.New(audit.WithLogger(logging.Discard()), audit.WithSink(d))
	log.Append(context.Background(), audit.RecoveryEvent("", audit.Recovery{ProcessorID: "visa", From: "frozen", To: "healthy", Reason: "operator:restore"}))
	log.Append(context.Background(), failureEvent(0))
	log.Close()
	d.Wait()

	require.Equal(t, int32(1), rcv.calls.Load())
	var got audit.Event
	require.NoError(t, json.Unmarshal(rcv.bodies[0], &got))
	assert.Equal(t, audit.KindRecovery, got.Kind)
	assert.Equal(t, int64(1), got.Seq)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func setupRouter(d *Dispatcher, store Store) *gin.Engine {
	r := gin.New()
	NewHandler(store, d).RegisterAdminRoutes(r.Group("/v1/admin"))
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(newTestDispatcher(store), store)

	w := do(r, "POST", "/v1/admin/webhooks", CreateWebhookRequest{
		URL:   "https://ops.example/hooks/payroute",
		Kinds: []string{"processor_failure", "processor_recovery"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Webhook Subscription `json:"webhook"`
		Secret  string       `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Regexp(t, `^wh_[0-9a-f]{32}$`, created.Webhook.ID)
	assert.Regexp(t, `^whsec_[0-9a-f]{64}$`, created.Secret)
	assert.Equal(t, []audit.Kind{audit.KindFailure, audit.KindRecovery}, created.Webhook.Kinds)
	assert.NotContains(t, w.Body.String(), `"Secret"`)

	w = do(r, "GET", "/v1/admin/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.NotContains(t, w.Body.String(), created.Secret)

	w = do(r, "DELETE", "/v1/admin/webhooks/"+created.Webhook.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, "DELETE", "/v1/admin/webhooks/"+created.Webhook.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CreateRejects(t *testing.T) {
	store := NewMemoryStore()
	d := NewDispatcher(store, WithLogger(logging.Discard()))
	r := setupRouter(d, store)

	w := do(r, "POST", "/v1/admin/webhooks", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "POST", "/v1/admin/webhooks", CreateWebhookRequest{URL: "http://127.0.0.1:9000/hook"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_url")

	w = do(r, "POST", "/v1/admin/webhooks", CreateWebhookRequest{URL: "https://8.8.8.8/hook", Kinds: []string{"payment.received"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_kind")
}
