package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_ScriptThenRandom(t *testing.T) {
	s := NewSimulated(SimulatedConfig{
		ID:          "sim",
		SuccessRate: 1,
		Script:      []Result{Failed(CodeDeclined, "scripted decline"), {Status: StatusSuccess}},
	})
	ctx := context.Background()
	tx := testTx(t, "10.00")

	r1, err := s.Execute(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, CodeDeclined, r1.ErrorCode)

	r2, _ := s.Execute(ctx, tx)
	assert.True(t, r2.OK())
	assert.NotEmpty(t, r2.ProcessorRef)

	r3, _ := s.Execute(ctx, tx)
	assert.True(t, r3.OK())
	assert.Equal(t, 3, s.Calls())
}

func TestSimulated_SeedIsReproducible(t *testing.T) {
	run := func() []Status {
		s := NewSimulated(SimulatedConfig{ID: "sim", SuccessRate: 0.5, Seed: 7})
		var out []Status
		for i := 0; i < 20; i++ {
			r, _ := s.Execute(context.Background(), testTx(t, "10.00"))
			out = append(out, r.Status)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSimulated_Frozen(t *testing.T) {
	s := NewSimulated(SimulatedConfig{ID: "sim", SuccessRate: 1})
	s.SetFrozen(true)

	r, err := s.Execute(context.Background(), testTx(t, "10.00"))
	require.NoError(t, err)
	assert.Equal(t, CodeAccountFrozen, r.ErrorCode)
	assert.False(t, s.Check(context.Background()).Healthy)

	s.SetFrozen(false)
	assert.True(t, s.Check(context.Background()).Healthy)
}

func TestSimulated_LatencyRespectsDeadline(t *testing.T) {
	s := NewSimulated(SimulatedConfig{ID: "sim", SuccessRate: 1, Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	r, err := s.Execute(ctx, testTx(t, "10.00"))
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, r.Status)
}
