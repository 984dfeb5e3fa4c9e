package audit

import (
	"context"
	"sync"
)

// Store persists audit events. Implementations must keep events in the
// order they were appended.
type Store interface {
	Append(ctx context.Context, e Event) error
	ByPayment(ctx context.Context, paymentID string) ([]Event, error)
	All(ctx context.Context) ([]Event, error)
}

// MemoryStore keeps events in memory for the lifetime of the process.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []Event
	byPayment map[string][]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byPayment: make(map[string][]int)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, e.clone())
	if e.PaymentID != "" {
		m.byPayment[e.PaymentID] = append(m.byPayment[e.PaymentID], len(m.events)-1)
	}
	return nil
}

func (m *MemoryStore) ByPayment(_ context.Context, paymentID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byPayment[paymentID]
	out := make([]Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.events[i].clone())
	}
	return out, nil
}

func (m *MemoryStore) All(_ context.Context) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.events))
	for i, e := range m.events {
		out[i] = e.clone()
	}
	return out, nil
}

// Len returns the number of stored events.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
