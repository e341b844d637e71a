package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowBurstThenDeny(t *testing.T) {
	l := New(2, 0.001)

	assert.True(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))

	// Other keys are independent.
	assert.True(t, l.Allow("client-b"))
}

func TestRefillRestoresTokens(t *testing.T) {
	l := New(1, 100)

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow("k"))
}

func TestKeysTracked(t *testing.T) {
	l := New(1, 1)

	l.Allow("a")
	l.Allow("b")

	assert.Equal(t, 2, l.Keys())
}

func TestDefaultsClamped(t *testing.T) {
	l := New(0, -1)

	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}
