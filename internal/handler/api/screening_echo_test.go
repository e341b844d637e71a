package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "FinScreen/internal/domain/models"
	"FinScreen/internal/filters"
	"FinScreen/internal/registry"
	"FinScreen/internal/repository"
	"FinScreen/internal/service/audit"
	"FinScreen/internal/usecase"
	"FinScreen/pkg/cache"
	xlogger "FinScreen/pkg/logger"
	"FinScreen/pkg/resilience"
)

func testLogger(t *testing.T) *xlogger.Logger {
	t.Helper()
	l, err := xlogger.New(&xlogger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

// captureQueue records published messages without processing them.
type captureQueue struct {
	mutex    sync.Mutex
	messages []capturedMessage
	err      error
}

type capturedMessage struct {
	msgType string
	payload interface{}
}

func (q *captureQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, capturedMessage{msgType: msgType, payload: payload})
	return nil
}

func (q *captureQueue) published() []capturedMessage {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]capturedMessage(nil), q.messages...)
}

type handlerFixture struct {
	echo  *echo.Echo
	queue *captureQueue
	store cache.Service
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	lgr := testLogger(t)

	reg := registry.New(lgr)
	require.NoError(t, reg.Register("structural", filters.StructuralVersion, filters.NewStructural))
	require.NoError(t, reg.Register("liquidity", filters.LiquidityVersion, filters.NewLiquidity))
	require.NoError(t, reg.EnableFilters([]string{"structural", "liquidity"}))

	dataCache := cache.NewMemoryCache()
	t.Cleanup(func() { _ = dataCache.Close() })
	provider := repository.NewCachedProvider(lgr,
		repository.NewMockProvider(repository.DefaultMockSeed), dataCache)

	auditLog := audit.NewLogger(lgr)
	scr := usecase.NewScreener(lgr, provider, reg, auditLog,
		usecase.WithRetrier(resilience.NewRetrier(lgr,
			resilience.WithMaxAttempts(1),
			resilience.WithBaseDelay(time.Millisecond))))

	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	q := &captureQueue{}

	h := NewScreeningEchoHandler(lgr, scr, reg,
		WithProvider(provider),
		WithAudit(auditLog),
		WithDeferredRuns(q, store))

	e := echo.New()
	h.RegisterRoutes(e)

	return &handlerFixture{echo: e, queue: q, store: store}
}

// envelope mirrors the standard response wrapper with the payload kept raw.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *handlerFixture) do(t *testing.T, method, target string, body interface{}) envelope {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func screenBody() map[string]interface{} {
	return map[string]interface{}{
		"as_of": "2024-11-01",
		"class": "STOCK",
	}
}

func TestScreenSyncStoresResult(t *testing.T) {
	f := newFixture(t)

	env := f.do(t, http.MethodPost, "/api/v1/screenings", screenBody())
	require.Equal(t, http.StatusOK, env.Status)

	var report RunReport
	require.NoError(t, json.Unmarshal(env.Data, &report))

	assert.NotEmpty(t, report.CorrelationID)
	assert.Equal(t, "STOCK", report.Class)
	assert.Equal(t, "2024-11-01", report.AsOf)
	assert.Equal(t, 60, report.LookbackDays)
	assert.Greater(t, report.InputCount, report.OutputCount)
	assert.Contains(t, report.Symbols, "AAPL")
	assert.NotContains(t, report.Symbols, "TINY")

	require.Len(t, report.AuditTrail, 2)
	assert.Equal(t, "structural", report.AuditTrail[0].Stage)
	assert.Equal(t, "liquidity", report.AuditTrail[1].Stage)

	// The sync path stores the run so the lookup endpoint resolves it too.
	env = f.do(t, http.MethodGet, "/api/v1/screenings/"+report.CorrelationID, nil)
	require.Equal(t, http.StatusOK, env.Status)

	var run usecase.DeferredRun
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, usecase.StatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.Summary)
	assert.Equal(t, report.CorrelationID, run.Summary.CorrelationID)
	assert.Equal(t, report.OutputCount, run.Summary.OutputCount)
}

func TestScreenRejectsInvalidBody(t *testing.T) {
	f := newFixture(t)

	cases := map[string]map[string]interface{}{
		"missing as_of":  {"class": "STOCK"},
		"unknown class":  {"as_of": "2024-11-01", "class": "BONDS"},
		"malformed date": {"as_of": "not-a-date", "class": "STOCK"},
		"lookback high":  {"as_of": "2024-11-01", "class": "STOCK", "lookback_days": 10000},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			env := f.do(t, http.MethodPost, "/api/v1/screenings", body)
			assert.Equal(t, http.StatusBadRequest, env.Status)
		})
	}
}

func TestScreenRequestErrorMapsToBadRequest(t *testing.T) {
	f := newFixture(t)

	future := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	env := f.do(t, http.MethodPost, "/api/v1/screenings",
		map[string]interface{}{"as_of": future, "class": "STOCK"})
	require.Equal(t, http.StatusBadRequest, env.Status)

	var issues []string
	require.NoError(t, json.Unmarshal(env.Data, &issues))
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "future")
}

func TestScreenAsyncEnqueues(t *testing.T) {
	f := newFixture(t)

	env := f.do(t, http.MethodPost, "/api/v1/screenings?async=1", screenBody())
	require.Equal(t, http.StatusAccepted, env.Status)

	var run usecase.DeferredRun
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, usecase.StatusQueued, run.Status)
	assert.NotEmpty(t, run.CorrelationID)
	assert.Nil(t, run.Summary)

	msgs := f.queue.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, usecase.JobTypeDeferredScreening, msgs[0].msgType)
	payload, ok := msgs[0].payload.(usecase.RequestMessage)
	require.True(t, ok)
	assert.Equal(t, run.CorrelationID, payload.CorrelationID)
	assert.Equal(t, "2024-11-01", payload.AsOf)

	// The queued envelope is resolvable before any worker picks it up.
	env = f.do(t, http.MethodGet, "/api/v1/screenings/"+run.CorrelationID, nil)
	require.Equal(t, http.StatusOK, env.Status)

	var stored usecase.DeferredRun
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	assert.Equal(t, usecase.StatusQueued, stored.Status)
}

func TestScreenAsyncEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("queue full")

	env := f.do(t, http.MethodPost, "/api/v1/screenings?async=true", screenBody())
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}

func TestDeferredRunsDisabled(t *testing.T) {
	lgr := testLogger(t)

	reg := registry.New(lgr)
	require.NoError(t, reg.Register("structural", filters.StructuralVersion, filters.NewStructural))
	require.NoError(t, reg.EnableFilters([]string{"structural"}))

	scr := usecase.NewScreener(lgr,
		repository.NewMockProvider(repository.DefaultMockSeed), reg, audit.NewLogger(lgr))

	h := NewScreeningEchoHandler(lgr, scr, reg)
	e := echo.New()
	h.RegisterRoutes(e)

	body, err := json.Marshal(screenBody())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/screenings?async=1", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var postEnv envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &postEnv))
	assert.Equal(t, http.StatusServiceUnavailable, postEnv.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/screenings/some-id", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var getEnv envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &getEnv))
	assert.Equal(t, http.StatusServiceUnavailable, getEnv.Status)
}

func TestScreeningResultNotFound(t *testing.T) {
	f := newFixture(t)

	env := f.do(t, http.MethodGet, "/api/v1/screenings/missing-id", nil)
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestStatsReportsState(t *testing.T) {
	f := newFixture(t)

	env := f.do(t, http.MethodPost, "/api/v1/screenings", screenBody())
	require.Equal(t, http.StatusOK, env.Status)

	env = f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, env.Status)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &stats))

	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)
	assert.Equal(t, []string{"structural", "liquidity"}, stats.EnabledOrder)
	require.Len(t, stats.Filters, 2)

	require.NotNil(t, stats.Cache)
	md := stats.Cache.Operations[repository.OpMarketData]
	assert.Equal(t, 1, md.Misses)
	assert.NotEmpty(t, stats.RecentEvents)
}

func TestStatsEventQueryParams(t *testing.T) {
	f := newFixture(t)

	env := f.do(t, http.MethodPost, "/api/v1/screenings", screenBody())
	require.Equal(t, http.StatusOK, env.Status)

	env = f.do(t, http.MethodGet, "/api/v1/stats?events=1", nil)
	require.Equal(t, http.StatusOK, env.Status)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Len(t, stats.RecentEvents, 1)

	// A cutoff in the future filters out the whole trail.
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	env = f.do(t, http.MethodGet, "/api/v1/stats?since="+future, nil)
	require.Equal(t, http.StatusOK, env.Status)
	stats = StatsResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Empty(t, stats.RecentEvents)
}

func TestEventsSinceKeepsSuffix(t *testing.T) {
	base := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{Type: "run_started", Timestamp: base},
		{Type: "stage_completed", Timestamp: base.Add(time.Second)},
		{Type: "run_completed", Timestamp: base.Add(2 * time.Second)},
	}

	got := eventsSince(events, base.Add(time.Second))
	require.Len(t, got, 2)
	assert.Equal(t, "stage_completed", got[0].Type)

	assert.Len(t, eventsSince(events, base), 3)
	assert.Empty(t, eventsSince(events, base.Add(time.Minute)))
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	env := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, env.Status)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestToScreeningRequestDefaults(t *testing.T) {
	req := &models.ScreenRequest{AsOf: "2024-11-01", Class: "CRYPTO", LookbackDays: 90}

	domReq, err := toScreeningRequest(req)
	require.NoError(t, err)
	assert.True(t, domReq.UseCache)
	assert.Equal(t, models.AssetClassCrypto, domReq.Class)
	assert.Equal(t, 90, domReq.LookbackDays)

	no := false
	req.UseCache = &no
	domReq, err = toScreeningRequest(req)
	require.NoError(t, err)
	assert.False(t, domReq.UseCache)

	req.AsOf = "11/01/2024"
	_, err = toScreeningRequest(req)
	require.Error(t, err)
}
