package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/service/audit"
)

type publishedMessage struct {
	topic string
	key   string
	value interface{}
}

type capturingPublisher struct {
	mutex    sync.Mutex
	messages []publishedMessage
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.messages = append(p.messages, publishedMessage{topic: topic, key: string(key), value: value})
	return nil
}

func (p *capturingPublisher) published() []publishedMessage {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]publishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

func workerFixture(t *testing.T) (*ScreeningWorker, *fakeProvider, *capturingPublisher, *audit.Logger) {
	t.Helper()
	lgr := testLogger(t)
	provider := newFakeProvider()
	auditLog := audit.NewLogger(lgr)
	pub := &capturingPublisher{}

	scr := NewScreener(lgr, provider, testRegistry(t, lgr), auditLog,
		WithRetrier(fastRetrier(t, lgr, 1)))
	worker := NewScreeningWorker(lgr, scr, WithResultsPublisher(pub, ""))
	return worker, provider, pub, auditLog
}

func TestWorkerRunsScreeningRequest(t *testing.T) {
	worker, provider, pub, auditLog := workerFixture(t)

	payload := []byte(`{
		"as_of": "2024-11-01",
		"class": "STOCK",
		"lookback_days": 60,
		"correlation_id": "corr-worker-1"
	}`)

	require.NoError(t, worker.Handle(context.Background(), payload))
	assert.Equal(t, 1, provider.callCount("assets"))

	messages := pub.published()
	require.Len(t, messages, 1)
	assert.Equal(t, DefaultResultsTopic, messages[0].topic)
	assert.Equal(t, "corr-worker-1", messages[0].key)

	summary, ok := messages[0].value.(RunSummary)
	require.True(t, ok)
	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, "STOCK", summary.Class)
	assert.Equal(t, "2024-11-01", summary.AsOf)
	assert.Equal(t, 10, summary.InputCount)
	assert.Equal(t, 6, summary.OutputCount)
	require.Len(t, summary.Symbols, 6)

	events := auditLog.EventsFor("corr-worker-1")
	require.NotEmpty(t, events)
	assert.Equal(t, "run_started", events[0].Type)
	assert.Equal(t, "run_completed", events[len(events)-1].Type)
}

func TestWorkerGeneratesCorrelationWhenAbsent(t *testing.T) {
	worker, _, pub, _ := workerFixture(t)

	payload := []byte(`{"as_of": "2024-11-01", "class": "STOCK"}`)
	require.NoError(t, worker.Handle(context.Background(), payload))

	messages := pub.published()
	require.Len(t, messages, 1)
	assert.NotEmpty(t, messages[0].key)

	summary := messages[0].value.(RunSummary)
	assert.Equal(t, messages[0].key, summary.CorrelationID)
}

func TestWorkerMalformedPayload(t *testing.T) {
	worker, provider, pub, _ := workerFixture(t)

	require.Error(t, worker.Handle(context.Background(), []byte(`{"as_of": 13`)))
	require.Error(t, worker.Handle(context.Background(), []byte(`{"as_of": "soon", "class": "STOCK"}`)))
	require.Error(t, worker.Handle(context.Background(), []byte(`{"as_of": "2024-11-01", "class": "BONDS"}`)))

	assert.Equal(t, 0, provider.callCount("assets"))
	assert.Empty(t, pub.published())
}

func TestWorkerAcksInvalidRequest(t *testing.T) {
	worker, _, pub, _ := workerFixture(t)

	// Valid wire format, invalid semantics: the date is in the future.
	future := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	payload := []byte(`{"as_of": "` + future + `", "class": "STOCK", "correlation_id": "corr-bad"}`)

	// Redelivery cannot fix a validation failure, so the message is acked.
	require.NoError(t, worker.Handle(context.Background(), payload))

	messages := pub.published()
	require.Len(t, messages, 1)
	summary := messages[0].value.(RunSummary)
	assert.Equal(t, "failed", summary.Status)
	assert.Equal(t, "corr-bad", summary.CorrelationID)
	assert.NotEmpty(t, summary.Error)
}

func TestWorkerTransientFailureRetried(t *testing.T) {
	worker, provider, pub, _ := workerFixture(t)
	provider.failNext("market_data", 100, errors.New("feed timeout"))

	payload := []byte(`{"as_of": "2024-11-01", "class": "STOCK", "correlation_id": "corr-transient"}`)

	// Transient faults bubble up so the consumer's retry/DLQ policy applies.
	require.Error(t, worker.Handle(context.Background(), payload))

	messages := pub.published()
	require.Len(t, messages, 1)
	summary := messages[0].value.(RunSummary)
	assert.Equal(t, "failed", summary.Status)
}

func TestWorkerTopics(t *testing.T) {
	lgr := testLogger(t)
	scr := NewScreener(lgr, newFakeProvider(), testRegistry(t, lgr), audit.NewLogger(lgr))

	worker := NewScreeningWorker(lgr, scr)
	assert.Equal(t, DefaultRequestsTopic, worker.Topic())

	custom := NewScreeningWorker(lgr, scr, WithRequestsTopic("screening.requests.v2"))
	assert.Equal(t, "screening.requests.v2", custom.Topic())
}
