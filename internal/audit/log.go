package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/payroute/internal/idgen"
)

const (
	sinkTimeout = 2 * time.Second

	// DefaultSinkQueue is how many events each sink may fall behind before
	// new events are dropped for it.
	DefaultSinkQueue = 1024
)

// Sink receives every event after it is stored. Each sink is fed from its
// own queue on its own goroutine, so a slow sink never delays Append or the
// other sinks. Sink failures are logged and never reach the caller.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Option configures a Log.
type Option func(*Log)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(l *Log) { l.store = s }
}

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sinks = append(l.sinks, s) }
}

// WithSinkQueue sets the per-sink queue length.
func WithSinkQueue(n int) Option {
	return func(l *Log) { l.queueLen = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(l *Log) { l.sessionID = id }
}

// WithLogger sets the logger used for write and sink errors.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// Log is the audit log for one router session.
type Log struct {
	mu   sync.Mutex
	seq  int64
	last time.Time

	store     Store
	sinks     []Sink
	queueLen  int
	queues    []*sinkQueue
	sinkMu    sync.RWMutex // guards closed against enqueue
	closed    bool
	sinkWG    sync.WaitGroup
	pending   atomic.Int64
	sessionID string
	startedAt time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Log. Without options it stores events in memory.
func New(opts ...Option) *Log {
	l := &Log{
		now:      time.Now,
		logger:   slog.Default(),
		queueLen: DefaultSinkQueue,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	if l.sessionID == "" {
		l.sessionID = idgen.Ordered(idgen.SessionPrefix)
	}
	l.startedAt = l.now().UTC()

	for _, sink := range l.sinks {
		q := &sinkQueue{sink: sink, events: make(chan Event, l.queueLen)}
		l.queues = append(l.queues, q)
		l.sinkWG.Add(1)
		go l.deliver(q)
	}
	return l
}

type sinkQueue struct {
	sink   Sink
	events chan Event
}

func (l *Log) deliver(q *sinkQueue) {
	defer l.sinkWG.Done()
	for e := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := q.sink.Publish(ctx, e); err != nil {
			sinkErrors.WithLabelValues(q.sink.Name()).Inc()
			l.logger.Warn("audit sink publish failed", "sink", q.sink.Name(), "seq", e.Seq, "error", err)
		}
		cancel()
		l.pending.Add(-1)
	}
}

// enqueue hands e to every sink without blocking. A full queue drops the
// event for that sink only.
func (l *Log) enqueue(e Event) {
	l.sinkMu.RLock()
	defer l.sinkMu.RUnlock()
	if l.closed {
		return
	}
	for _, q := range l.queues {
		l.pending.Add(1)
		select {
		case q.events <- e.clone():
		default:
			l.pending.Add(-1)
			sinkDropped.WithLabelValues(q.sink.Name()).Inc()
			l.logger.Warn("audit sink queue full, event dropped", "sink", q.sink.Name(), "seq", e.Seq)
		}
	}
}

// Flush waits until every queued event has been handed to its sink, or ctx
// is done.
func (l *Log) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for l.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("audit: flush: %d events still queued: %w", l.pending.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting sink deliveries and waits for queued events to be
// published. Events appended after Close are stored but not fanned out.
func (l *Log) Close() {
	l.sinkMu.Lock()
	if l.closed {
		l.sinkMu.Unlock()
		return
	}
	l.closed = true
	for _, q := range l.queues {
		close(q.events)
	}
	l.sinkMu.Unlock()
	l.sinkWG.Wait()
}

// SessionID identifies this log's session.
func (l *Log) SessionID() string { return l.sessionID }

// Append records e. It never fails the caller: invalid events and store
// errors are logged and counted. Timestamps are monotonic and Seq breaks
// ties, so (Timestamp, Seq) is a total order consistent with append order.
func (l *Log) Append(ctx context.Context, e Event) {
	if err := e.Validate(); err != nil {
		writeErrors.WithLabelValues("invalid").Inc()
		l.logger.Error("audit event rejected", "kind", e.Kind, "payment_id", e.PaymentID, "error", err)
		return
	}

	l.mu.Lock()
	l.seq++
	ts := l.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts

	e = e.clone()
	e.Seq = l.seq
	e.ID = idgen.WithPrefix(idgen.EventPrefix)
	e.SessionID = l.sessionID
	e.Timestamp = ts

	// the store write stays under the lock so stored order matches Seq
	err := l.store.Append(context.WithoutCancel(ctx), e)
	l.mu.Unlock()

	if err != nil {
		writeErrors.WithLabelValues("store").Inc()
		l.logger.Error("audit write failed", "kind", e.Kind, "payment_id", e.PaymentID, "seq", e.Seq, "error", err)
		return
	}
	eventsTotal.WithLabelValues(string(e.Kind)).Inc()

	l.enqueue(e)
}

// Trail returns the events for paymentID ordered by (Timestamp, Seq).
func (l *Log) Trail(ctx context.Context, paymentID string) ([]Event, error) {
	events, err := l.store.ByPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("audit: trail for %s: %w", paymentID, err)
	}
	sortEvents(events)
	return events, nil
}

// Events returns every event in the session ordered by (Timestamp, Seq).
func (l *Log) Events(ctx context.Context) ([]Event, error) {
	events, err := l.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	sortEvents(events)
	return events, nil
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Seq < events[j].Seq
	})
}

// sessionHeader is the first line of a JSONL export.
type sessionHeader struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"sessionId"`
	StartedAt  time.Time `json:"startedAt"`
	ExportedAt time.Time `json:"exportedAt"`
	Events     int       `json:"events"`
}

// ExportJSONL writes a session header followed by one JSON event per line.
func (l *Log) ExportJSONL(ctx context.Context, w io.Writer) error {
	events, err := l.Events(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(sessionHeader{
		Type:       "session_start",
		SessionID:  l.sessionID,
		StartedAt:  l.startedAt,
		ExportedAt: l.now().UTC(),
		Events:     len(events),
	}); err != nil {
		return fmt.Errorf("audit: write export header: %w", err)
	}
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("audit: write event %d: %w", e.Seq, err)
		}
	}
	return nil
}
