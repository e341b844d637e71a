package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
	applogger "FinScreen/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func testRequest() models.ScreeningRequest {
	return models.ScreeningRequest{
		AsOf:  time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		Class: models.AssetClassStock,
	}
}

func TestRegisterAndGet(t *testing.T) {
	m := NewManager(testLogger(t))

	info, err := m.Register(context.Background(), "corr-1", testRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "corr-1", info.CorrelationID)
	assert.Equal(t, models.AssetClassStock, info.Class)
	assert.Equal(t, testRequest().AsOf, info.AsOf)

	got, ok := m.Get(info.ID)
	require.True(t, ok)
	assert.Equal(t, info, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestRegisterUniqueIDs(t *testing.T) {
	m := NewManager(testLogger(t))
	ctx := context.Background()

	a, err := m.Register(ctx, "corr-1", testRequest())
	require.NoError(t, err)
	b, err := m.Register(ctx, "corr-1", testRequest())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, m.Len())
}

func TestPruneDropsOldSnapshots(t *testing.T) {
	current := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(testLogger(t), WithClock(func() time.Time { return current }))
	ctx := context.Background()

	old, err := m.Register(ctx, "corr-old", testRequest())
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	fresh, err := m.Register(ctx, "corr-new", testRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, m.Prune(time.Hour))

	_, ok := m.Get(old.ID)
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestPruneZeroUsesDefaultMaxAge(t *testing.T) {
	current := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(testLogger(t), WithClock(func() time.Time { return current }))

	_, err := m.Register(context.Background(), "corr-1", testRequest())
	require.NoError(t, err)

	current = current.Add(30 * time.Minute)
	assert.Equal(t, 0, m.Prune(0))

	current = current.Add(DefaultMaxAge)
	assert.Equal(t, 1, m.Prune(0))
}

func TestRegisterHonorsContext(t *testing.T) {
	m := NewManager(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Register(ctx, "corr-1", testRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Len())
}
