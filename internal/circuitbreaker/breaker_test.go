package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(threshold, open)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure("oracle:openai")
	b.RecordFailure("oracle:openai")
	if !b.Allow("oracle:openai") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("oracle:openai")
	if b.Allow("oracle:openai") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("oracle:openai") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("oracle:openai"))
	}
}

func TestBreaker_HalfOpenAdmitsSingleTrialCall(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	b.RecordFailure("k")
	b.RecordFailure("k")
	clock.Advance(time.Minute)

	if !b.Allow("k") {
		t.Fatal("should allow a trial call in half-open")
	}
	if b.State("k") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("k"))
	}
	if b.Allow("k") {
		t.Fatal("should reject second call in half-open")
	}
}

func TestBreaker_HalfOpenOutcome(t *testing.T) {
	b, clock := newTestBreaker(2, time.Second)

	b.RecordFailure("ok")
	b.RecordFailure("ok")
	b.RecordFailure("bad")
	b.RecordFailure("bad")
	clock.Advance(time.Second)
	b.Allow("ok")
	b.Allow("bad")

	b.RecordSuccess("ok")
	b.RecordFailure("bad")

	if b.State("ok") != StateClosed {
		t.Errorf("expected closed after successful trial call, got %v", b.State("ok"))
	}
	if b.State("bad") != StateOpen {
		t.Errorf("expected open after failed trial call, got %v", b.State("bad"))
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure("k")
	b.RecordFailure("k")
	b.RecordSuccess("k")
	b.RecordFailure("k")

	if !b.Allow("k") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	b.RecordFailure("a")
	b.RecordFailure("a")

	if b.Allow("a") {
		t.Fatal("a should be open")
	}
	if !b.Allow("b") {
		t.Fatal("b should be closed")
	}
	if b.State("unknown") != StateClosed {
		t.Fatal("unknown keys should be closed")
	}
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	boom := errors.New("boom")

	if err := b.Execute("k", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	called := false
	err := b.Execute("k", func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestBreaker_States(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.RecordFailure("z")
	b.RecordFailure("a")
	b.RecordSuccess("a")

	states := b.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].Key != "a" || states[1].Key != "z" {
		t.Fatalf("expected sorted keys, got %+v", states)
	}
	if states[1].State != StateOpen {
		t.Errorf("expected z open, got %v", states[1].State)
	}
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	got := make(chan [2]State, 1)
	b.OnTransition(func(key string, from, to State) {
		got <- [2]State{from, to}
	})

	b.RecordFailure("k")
	b.RecordFailure("k")

	select {
	case tr := <-got:
		if tr[0] != StateClosed || tr[1] != StateOpen {
			t.Fatalf("expected closed→open, got %v→%v", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("transition callback not invoked")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
