package idgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsUUID(t *testing.T) {
	_, err := uuid.Parse(New())
	require.NoError(t, err)
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PaymentPrefix)
	assert.True(t, HasPrefix(id, PaymentPrefix))
	assert.False(t, HasPrefix(id, DecisionPrefix))
	assert.NotEqual(t, id, WithPrefix(PaymentPrefix))
}

func TestOrdered_SortsByCreation(t *testing.T) {
	a := Ordered(SessionPrefix)
	b := Ordered(SessionPrefix)
	assert.True(t, HasPrefix(a, SessionPrefix))
	assert.Less(t, a, b)
}
