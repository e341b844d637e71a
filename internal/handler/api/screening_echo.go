package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	models "FinScreen/internal/domain/models"
	"FinScreen/internal/registry"
	"FinScreen/internal/repository"
	"FinScreen/internal/service/audit"
	"FinScreen/internal/usecase"
	"FinScreen/internal/validation"
	"FinScreen/pkg/cache"
	xhttp "FinScreen/pkg/http"
	xlogger "FinScreen/pkg/logger"
	"FinScreen/pkg/queue"
	"FinScreen/pkg/resilience"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// recentEventLimit caps the audit tail on the stats endpoint.
const recentEventLimit = 20

// ScreeningEchoHandler serves the screening API: synchronous runs, deferred
// runs resolved by correlation ID, and an operational stats view.
type ScreeningEchoHandler struct {
	logger   *xlogger.Logger
	screener *usecase.Screener
	registry *registry.Registry
	breakers *resilience.BreakerGroup
	audit    *audit.Logger
	provider *repository.CachedProvider
	queue    queue.QueueService
	store    cache.Service
	started  time.Time
}

// HandlerOption configures a ScreeningEchoHandler.
type HandlerOption func(*ScreeningEchoHandler)

// WithBreakers exposes circuit breaker state on the stats endpoint.
func WithBreakers(group *resilience.BreakerGroup) HandlerOption {
	return func(h *ScreeningEchoHandler) { h.breakers = group }
}

// WithAudit exposes recent audit events on the stats endpoint.
func WithAudit(a *audit.Logger) HandlerOption {
	return func(h *ScreeningEchoHandler) { h.audit = a }
}

// WithProvider exposes per-operation cache stats on the stats endpoint.
func WithProvider(p *repository.CachedProvider) HandlerOption {
	return func(h *ScreeningEchoHandler) { h.provider = p }
}

// WithDeferredRuns enables async screening: requests land on the queue and
// results are read back from store under their correlation ID. Synchronous
// runs are also stored so both paths resolve through the same lookup.
func WithDeferredRuns(q queue.QueueService, store cache.Service) HandlerOption {
	return func(h *ScreeningEchoHandler) {
		h.queue = q
		h.store = store
	}
}

func NewScreeningEchoHandler(logger *xlogger.Logger, screener *usecase.Screener, reg *registry.Registry, opts ...HandlerOption) *ScreeningEchoHandler {
	h := &ScreeningEchoHandler{
		logger:   logger,
		screener: screener,
		registry: reg,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ScreeningEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api/v1")
	g.GET("/stats", h.Stats)
	g.POST("/screenings", h.Screen)
	g.GET("/screenings/:id", h.ScreeningResult)
}

// Health reports process liveness. Kept cheap so load balancers can poll it
// aggressively.
func (h *ScreeningEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

// Screen runs a screening synchronously, or enqueues it when the async query
// parameter is set.
func (h *ScreeningEchoHandler) Screen(c echo.Context) error {
	req := &models.ScreenRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	domReq, err := toScreeningRequest(req)
	if err != nil {
		return xhttp.BadRequestResponse(c, []string{err.Error()})
	}

	if wantAsync(c.QueryParam("async")) {
		return h.enqueue(c, req)
	}

	ctx := c.Request().Context()
	result, err := h.screener.Screen(ctx, domReq)
	if err != nil {
		var reqErr *validation.RequestError
		if errors.As(err, &reqErr) {
			return xhttp.BadRequestResponse(c, reqErr.Issues)
		}
		h.logger.Error("screening run failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("screening run failed").WithError(err))
	}

	h.storeRun(ctx, completedRun(result))
	return xhttp.SuccessResponse(c, newRunReport(result))
}

// ScreeningResult returns the stored outcome of a run by correlation ID.
// Deferred runs progress through queued, running and completed or failed.
func (h *ScreeningEchoHandler) ScreeningResult(c echo.Context) error {
	if h.store == nil {
		return xhttp.AppErrorResponse(c, deferredDisabledError())
	}

	id := c.Param("id")
	var run usecase.DeferredRun
	if err := h.store.Get(c.Request().Context(), usecase.ResultCacheKey(id), &run); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no screening run %q", id))
		}
		h.logger.Error("run lookup failed", xlogger.String("correlation_id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("run lookup failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, run)
}

// Stats returns a point-in-time operational view: cache effectiveness,
// breaker health, registered filters and the most recent audit events.
// The events query parameter resizes the audit tail and since drops
// events recorded before the given time.
func (h *ScreeningEchoHandler) Stats(c echo.Context) error {
	resp := StatsResponse{
		UptimeSeconds: time.Since(h.started).Seconds(),
		Filters:       h.registry.Infos(),
		EnabledOrder:  h.registry.EnabledNames(),
	}
	if h.provider != nil {
		resp.Cache = &CacheReport{
			Store: h.provider.CacheStats(),
			Operations: map[string]repository.OpStats{
				repository.OpMarketData: h.provider.OpStats(repository.OpMarketData),
				repository.OpMetadata:   h.provider.OpStats(repository.OpMetadata),
			},
		}
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.Snapshot()
	}
	if h.audit != nil {
		events := h.audit.Events()
		if since, ok := xhttp.ParseTime(c.QueryParam("since")); ok {
			events = eventsSince(events, since)
		}
		limit := xhttp.ParseIntDefault(c.QueryParam("events"), recentEventLimit)
		resp.RecentEvents = tailEvents(events, limit)
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *ScreeningEchoHandler) enqueue(c echo.Context, req *models.ScreenRequest) error {
	if h.queue == nil || h.store == nil {
		return xhttp.AppErrorResponse(c, deferredDisabledError())
	}

	ctx := c.Request().Context()
	msg := usecase.RequestMessage{
		AsOf:            req.AsOf,
		Class:           req.Class,
		LookbackDays:    req.LookbackDays,
		Config:          req.Config,
		UseCache:        req.UseCache,
		CreateSnapshot:  req.CreateSnapshot,
		RunHealthChecks: req.RunHealthChecks,
		ValidateData:    req.ValidateData,
		CorrelationID:   uuid.NewString(),
	}

	run := usecase.DeferredRun{
		CorrelationID: msg.CorrelationID,
		Status:        usecase.StatusQueued,
		SubmittedAt:   time.Now().UTC(),
	}
	h.storeRun(ctx, run)

	if err := h.queue.PublishMessage(ctx, usecase.JobTypeDeferredScreening, msg); err != nil {
		h.logger.Error("deferred screening enqueue failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("enqueue failed").WithError(err))
	}
	return xhttp.DataResponse(c, http.StatusAccepted, run)
}

// storeRun persists a run envelope best-effort. A failed write only costs
// the result lookup, never the run itself.
func (h *ScreeningEchoHandler) storeRun(ctx context.Context, run usecase.DeferredRun) {
	if h.store == nil {
		return
	}
	if err := h.store.Set(ctx, usecase.ResultCacheKey(run.CorrelationID), run, 0); err != nil {
		h.logger.Warn("run store failed",
			xlogger.String("correlation_id", run.CorrelationID),
			xlogger.Error(err))
	}
}

func completedRun(result *models.ScreeningResult) usecase.DeferredRun {
	summary := usecase.NewRunSummary(result)
	completedAt := result.Metadata.CompletedAt
	return usecase.DeferredRun{
		CorrelationID: result.Metadata.CorrelationID,
		Status:        usecase.StatusCompleted,
		SubmittedAt:   result.Metadata.StartedAt,
		CompletedAt:   &completedAt,
		Summary:       &summary,
	}
}

func wantAsync(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func deferredDisabledError() *xhttp.AppError {
	return xhttp.NewAppError("ERR_UNAVAILABLE", "", "deferred screening is not enabled", http.StatusServiceUnavailable)
}
