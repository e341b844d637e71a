package audit

import (
	"context"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"
)

// DefaultTopic is where the decision trail is published when a Kafka
// publisher is wired in.
const DefaultTopic = "screening.audit"

const (
	defaultMaxEvents = 1000
	publishTimeout   = 5 * time.Second
)

// Event is one entry of a run's decision trail.
type Event struct {
	Type          string                 `json:"event_type"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// Publisher forwards audit events to an external sink. pkg/kafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// Logger records the audit trail: structured logs, an in-memory tail for
// the stats endpoint, and optionally a Kafka topic. Nothing here ever fails
// the run; publish errors are logged and dropped.
type Logger struct {
	logger    *applogger.Logger
	publisher Publisher
	topic     string

	mutex     sync.Mutex
	events    []Event
	maxEvents int
}

// Option configures a Logger.
type Option func(*Logger)

// WithPublisher mirrors every event onto a Kafka topic, keyed by
// correlation id so one run stays on one partition.
func WithPublisher(p Publisher, topic string) Option {
	return func(a *Logger) {
		a.publisher = p
		if topic != "" {
			a.topic = topic
		}
	}
}

// WithMaxEvents bounds the in-memory tail.
func WithMaxEvents(n int) Option {
	return func(a *Logger) {
		if n > 0 {
			a.maxEvents = n
		}
	}
}

func NewLogger(lgr *applogger.Logger, opts ...Option) *Logger {
	a := &Logger{
		logger:    lgr,
		topic:     DefaultTopic,
		maxEvents: defaultMaxEvents,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Logger) RunStarted(_ context.Context, correlationID string, req models.ScreeningRequest) {
	a.emit("run_started", correlationID, map[string]interface{}{
		"class":         string(req.Class),
		"as_of":         req.AsOf.Format("2006-01-02"),
		"lookback_days": req.LookbackDays,
		"use_cache":     req.UseCache,
	}, false)
}

func (a *Logger) StageCompleted(_ context.Context, correlationID string, result models.StageResult) {
	a.emit("stage_completed", correlationID, map[string]interface{}{
		"stage":        result.Stage,
		"input_count":  result.InputCount,
		"output_count": result.OutputCount,
		"duration_ms":  result.Duration.Milliseconds(),
		"rejections":   len(result.Reasons),
	}, false)
}

func (a *Logger) Anomaly(_ context.Context, correlationID string, kind string, details map[string]interface{}) {
	payload := map[string]interface{}{"kind": kind}
	for k, v := range details {
		payload[k] = v
	}
	a.emit("anomaly", correlationID, payload, true)
}

func (a *Logger) RunCompleted(_ context.Context, correlationID string, result *models.ScreeningResult) {
	a.emit("run_completed", correlationID, map[string]interface{}{
		"input_count":  len(result.InputUniverse),
		"output_count": len(result.FinalUniverse),
		"stages":       len(result.AuditTrail),
		"duration_ms":  result.Metadata.Duration.Milliseconds(),
	}, false)
}

func (a *Logger) RunFailed(_ context.Context, correlationID string, err error) {
	a.emit("run_failed", correlationID, map[string]interface{}{
		"error": err.Error(),
	}, true)
}

// Events returns a copy of the in-memory tail, oldest first.
func (a *Logger) Events() []Event {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// EventsFor returns the tail filtered to one correlation id.
func (a *Logger) EventsFor(correlationID string) []Event {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	out := make([]Event, 0, 16)
	for _, e := range a.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}

func (a *Logger) emit(eventType, correlationID string, payload map[string]interface{}, warn bool) {
	event := Event{
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
		Payload:       payload,
	}

	a.mutex.Lock()
	a.events = append(a.events, event)
	if len(a.events) > a.maxEvents {
		a.events = a.events[len(a.events)-a.maxEvents:]
	}
	a.mutex.Unlock()

	fields := []applogger.Field{
		applogger.String("event", eventType),
		applogger.String("correlation_id", correlationID),
		applogger.Any("details", payload),
	}
	if warn {
		a.logger.Warn("audit event", fields...)
	} else {
		a.logger.Info("audit event", fields...)
	}

	if a.publisher == nil {
		return
	}
	// Detached from the run context so audit survives cancellation.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := a.publisher.Publish(ctx, a.topic, []byte(correlationID), event); err != nil {
			a.logger.Warn("audit publish failed",
				applogger.String("event", eventType),
				applogger.String("topic", a.topic),
				applogger.Error(err),
			)
		}
	}()
}

var _ domrepo.AuditLogger = (*Logger)(nil)
