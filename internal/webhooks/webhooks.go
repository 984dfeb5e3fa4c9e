// Package webhooks delivers audit events to operator-registered HTTP
// endpoints.
//
// Operators subscribe a URL to one or more audit event kinds, for example
// processor_failure and processor_recovery for paging, or routing_outcome
// for settlement. Every delivery is signed with the subscription's secret.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/payroute/internal/audit"
	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/retry"
	"github.com/mbd888/payroute/internal/security"
)

// Delivery headers.
const (
	HeaderEvent     = "X-Payroute-Event"
	HeaderDelivery  = "X-Payroute-Delivery"
	HeaderSignature = "X-Payroute-Signature"
)

const deliveryTimeout = 30 * time.Second

var ErrNotFound = errors.New("webhooks: subscription not found")

var deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "payroute",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Webhook deliveries by event kind and result.",
}, []string{"kind", "result"})

func init() {
	prometheus.MustRegister(deliveriesTotal)
}

// Subscription is an endpoint receiving some audit event kinds. An empty
// Kinds list receives every kind.
type Subscription struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	Secret      string       `json:"-"` // Used for HMAC signing
	Kinds       []audit.Kind `json:"kinds"`
	Active      bool         `json:"active"`
	CreatedBy   string       `json:"createdBy,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastSuccess *time.Time   `json:"lastSuccess,omitempty"`
	LastError   string       `json:"lastError,omitempty"`
}

// Wants reports whether the subscription receives kind.
func (s *Subscription) Wants(kind audit.Kind) bool {
	return s.Active && (len(s.Kinds) == 0 || slices.Contains(s.Kinds, kind))
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	RecordResult(ctx context.Context, id string, at time.Time, errMsg string) error
	Delete(ctx context.Context, id string) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry sets the per-delivery retry policy.
func WithRetry(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithURLValidator replaces the SSRF check applied to subscription URLs.
func WithURLValidator(fn func(string) error) Option {
	return func(d *Dispatcher) { d.urlValidator = fn }
}

// Dispatcher fans audit events out to subscriptions. It implements
// audit.Sink; deliveries run in the background so Publish never waits on
// a subscriber.
type Dispatcher struct {
	store        Store
	client       *http.Client
	policy       retry.Policy
	logger       *slog.Logger
	urlValidator func(string) error
	now          func() time.Time
	wg           sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: 10 * time.Second},
		policy:       retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		urlValidator: security.ValidateEndpointURL,
		now:          time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = logging.OrDefault(d.logger)
	return d
}

// ValidateURL applies the dispatcher's endpoint check.
func (d *Dispatcher) ValidateURL(u string) error {
	return d.urlValidator(u)
}

// Name implements audit.Sink.
func (d *Dispatcher) Name() string { return "webhooks" }

// Publish implements audit.Sink.
func (d *Dispatcher) Publish(ctx context.Context, e audit.Event) error {
	subs, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	var payload []byte
	for _, sub := range subs {
		if !sub.Wants(e.Kind) {
			continue
		}
		if payload == nil {
			if payload, err = json.Marshal(e); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
		}
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			d.deliver(sub, e, payload)
		}(sub)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(sub *Subscription, e audit.Event, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	err := retry.Do(ctx, d.policy, func(ctx context.Context) error {
		return d.send(ctx, sub, e, payload)
	})

	errMsg := ""
	result := "success"
	if err != nil {
		errMsg = err.Error()
		result = "failure"
		d.logger.Warn("webhook delivery failed",
			"webhook_id", sub.ID, "kind", e.Kind, "seq", e.Seq, "error", err)
	}
	deliveriesTotal.WithLabelValues(string(e.Kind), result).Inc()

	if rerr := d.store.RecordResult(ctx, sub.ID, d.now(), errMsg); rerr != nil && !errors.Is(rerr, ErrNotFound) {
		d.logger.Warn("failed to record webhook result", "webhook_id", sub.ID, "error", rerr)
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, e audit.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(e.Kind))
	req.Header.Set(HeaderDelivery, e.ID)
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret, d.now()))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		// The receiver rejected the payload; resending it will not help.
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the signature header value "t=<unix>,v1=<hex>" where v1 is
// HMAC-SHA256 over "<unix>.<payload>".
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + mac(payload, secret, ts)
}

// Verify checks a signature header produced by Sign and rejects
// signatures older than tolerance.
func Verify(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sig == "" {
		return errors.New("malformed signature header")
	}
	if tolerance > 0 && now.Sub(time.Unix(unix, 0)).Abs() > tolerance {
		return errors.New("signature timestamp outside tolerance")
	}
	if !hmac.Equal([]byte(sig), []byte(mac(payload, secret, ts))) {
		return errors.New("signature mismatch")
	}
	return nil
}

func mac(payload []byte, secret, ts string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStore is an in-memory Store. It hands out copies so deliveries
// recording results never race with readers.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; ok {
		return fmt.Errorf("webhooks: subscription %s already exists", sub.ID)
	}
	m.subs[sub.ID] = clone(sub)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return clone(sub), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, clone(sub))
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryStore) RecordResult(_ context.Context, id string, at time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if errMsg == "" {
		sub.LastSuccess = &at
	}
	sub.LastError = errMsg
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func clone(s *Subscription) *Subscription {
	out := *s
	out.Kinds = slices.Clone(s.Kinds)
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		out.LastSuccess = &t
	}
	return &out
}
