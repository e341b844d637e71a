package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	batches chan []LogDigest
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{batches: make(chan []LogDigest, 4)}
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	if batch, ok := payload.([]LogDigest); ok {
		p.batches <- batch
	}
	return nil
}

func (p *capturePublisher) waitBatch(t *testing.T) []LogDigest {
	t.Helper()
	select {
	case batch := <-p.batches:
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("no batch published")
		return nil
	}
}

func TestCollectorDeduplicatesRepeats(t *testing.T) {
	sink := newCapturePublisher()
	c := newCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "screening.logs",
		Publisher:      sink,
	})
	defer c.Close()

	fields := map[string]interface{}{"symbol": "AAPL"}
	c.Record("error", "fetch failed", fields, "repository/provider.go:42")
	c.Record("error", "fetch failed", fields, "repository/provider.go:42")
	// Second distinct entry reaches the threshold and forces a flush.
	c.Record("error", "stale metadata", nil, "validation/data.go:10")

	batch := sink.waitBatch(t)
	require.Len(t, batch, 2)

	byMessage := map[string]LogDigest{}
	for _, d := range batch {
		byMessage[d.Message] = d
	}
	require.Contains(t, byMessage, "fetch failed")
	assert.Equal(t, 2, byMessage["fetch failed"].Count)
	assert.Equal(t, 1, byMessage["stale metadata"].Count)
	assert.False(t, byMessage["fetch failed"].LastSeen.Before(byMessage["fetch failed"].FirstSeen))
}

func TestCollectorFlushesOnClose(t *testing.T) {
	sink := newCapturePublisher()
	c := newCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "screening.logs",
		Publisher:      sink,
	})

	c.Record("error", "breaker open", nil, "resilience/breaker.go:77")
	c.Close()

	batch := sink.waitBatch(t)
	require.Len(t, batch, 1)
	assert.Equal(t, "breaker open", batch[0].Message)
}

func TestLoggerRecordsErrorsToCollector(t *testing.T) {
	lgr, err := New(&Config{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	sink := newCapturePublisher()
	lgr.AddCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "screening.logs",
		Publisher:      sink,
	})

	lgr.Error("clickhouse query failed", String("operation", "market_data"))
	lgr.RemoveCollector()

	batch := sink.waitBatch(t)
	require.Len(t, batch, 1)
	assert.Equal(t, "error", batch[0].Level)
	assert.Equal(t, "clickhouse query failed", batch[0].Message)
	assert.Equal(t, "market_data", batch[0].Fields["operation"])
	assert.NotEmpty(t, batch[0].Caller)
}
