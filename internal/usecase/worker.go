package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/validation"
	pkgkafka "FinScreen/pkg/kafka"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/util"
)

const (
	// DefaultRequestsTopic is where screening requests arrive.
	DefaultRequestsTopic = "screening.requests"
	// DefaultResultsTopic is where run summaries are published.
	DefaultResultsTopic = "screening.results"
)

// ResultPublisher forwards run summaries to a topic. pkg/kafka.Producer
// satisfies it.
type ResultPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// Run summary statuses for published and stored outcomes.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RequestMessage is the wire form of a screening request, shared by the
// Kafka worker and the deferred-run queue.
type RequestMessage struct {
	AsOf            string                 `json:"as_of"`
	Class           string                 `json:"class"`
	LookbackDays    int                    `json:"lookback_days,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
	UseCache        *bool                  `json:"use_cache,omitempty"`
	CreateSnapshot  bool                   `json:"create_snapshot,omitempty"`
	RunHealthChecks bool                   `json:"run_health_checks,omitempty"`
	ValidateData    bool                   `json:"validate_data,omitempty"`
	CorrelationID   string                 `json:"correlation_id,omitempty"`
}

func (m RequestMessage) ToRequest() (models.ScreeningRequest, error) {
	asOf, err := util.ParseDate(m.AsOf)
	if err != nil {
		return models.ScreeningRequest{}, fmt.Errorf("parse as_of: %w", err)
	}
	class, err := models.ParseAssetClass(m.Class)
	if err != nil {
		return models.ScreeningRequest{}, err
	}

	// Cache routing defaults on; opting out has to be explicit.
	useCache := true
	if m.UseCache != nil {
		useCache = *m.UseCache
	}

	return models.ScreeningRequest{
		AsOf:            asOf,
		Class:           class,
		LookbackDays:    m.LookbackDays,
		Config:          m.Config,
		UseCache:        useCache,
		CreateSnapshot:  m.CreateSnapshot,
		RunHealthChecks: m.RunHealthChecks,
		ValidateData:    m.ValidateData,
	}, nil
}

// RunSummary is the published summary of one run.
type RunSummary struct {
	CorrelationID string   `json:"correlation_id"`
	Status        string   `json:"status"`
	Class         string   `json:"class"`
	AsOf          string   `json:"as_of"`
	InputCount    int      `json:"input_count"`
	OutputCount   int      `json:"output_count"`
	Symbols       []string `json:"symbols,omitempty"`
	SnapshotID    string   `json:"snapshot_id,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	Error         string   `json:"error,omitempty"`
}

// ScreeningWorker consumes screening requests from Kafka, runs them through
// the pipeline, and publishes a summary per run. Invalid requests are
// acknowledged rather than retried; transient failures bubble up so the
// consumer's retry/DLQ policy applies.
type ScreeningWorker struct {
	logger   *applogger.Logger
	screener *Screener
	results  ResultPublisher

	topic        string
	resultsTopic string
}

// WorkerOption configures a ScreeningWorker.
type WorkerOption func(*ScreeningWorker)

// WithRequestsTopic overrides the consumed topic.
func WithRequestsTopic(topic string) WorkerOption {
	return func(w *ScreeningWorker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

// WithResultsPublisher wires summary publication. An empty topic keeps the
// default.
func WithResultsPublisher(p ResultPublisher, topic string) WorkerOption {
	return func(w *ScreeningWorker) {
		w.results = p
		if topic != "" {
			w.resultsTopic = topic
		}
	}
}

func NewScreeningWorker(lgr *applogger.Logger, screener *Screener, opts ...WorkerOption) *ScreeningWorker {
	w := &ScreeningWorker{
		logger:       lgr,
		screener:     screener,
		topic:        DefaultRequestsTopic,
		resultsTopic: DefaultResultsTopic,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *ScreeningWorker) Topic() string { return w.topic }

func (w *ScreeningWorker) Handle(ctx context.Context, b []byte) error {
	var msg RequestMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return fmt.Errorf("decode screening request: %w", err)
	}

	req, err := msg.ToRequest()
	if err != nil {
		return fmt.Errorf("screening request %q: %w", msg.CorrelationID, err)
	}

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	w.logger.Info("screening request received",
		applogger.String("correlation_id", correlationID),
		applogger.String("class", string(req.Class)),
		applogger.String("as_of", util.FormatDate(req.AsOf)))

	result, err := w.screener.ScreenWithCorrelation(ctx, correlationID, req)
	if err != nil {
		w.publishSummary(ctx, RunSummary{
			CorrelationID: correlationID,
			Status:        StatusFailed,
			Class:         string(req.Class),
			AsOf:          util.FormatDate(req.AsOf),
			Error:         err.Error(),
		})

		var reqErr *validation.RequestError
		if errors.As(err, &reqErr) {
			// Invalid requests never succeed on redelivery.
			return nil
		}
		return fmt.Errorf("screening run: %w", err)
	}

	w.publishSummary(ctx, NewRunSummary(result))
	return nil
}

// NewRunSummary condenses a completed run into its published form.
func NewRunSummary(result *models.ScreeningResult) RunSummary {
	return RunSummary{
		CorrelationID: result.Metadata.CorrelationID,
		Status:        StatusCompleted,
		Class:         string(result.Request.Class),
		AsOf:          util.FormatDate(result.Request.AsOf),
		InputCount:    len(result.InputUniverse),
		OutputCount:   len(result.FinalUniverse),
		Symbols:       models.Symbols(result.FinalUniverse),
		SnapshotID:    result.Metadata.SnapshotID,
		DurationMs:    result.Metadata.Duration.Milliseconds(),
	}
}

func (w *ScreeningWorker) publishSummary(ctx context.Context, msg RunSummary) {
	if w.results == nil {
		return
	}
	if err := w.results.Publish(ctx, w.resultsTopic, []byte(msg.CorrelationID), msg); err != nil {
		w.logger.Warn("result publish failed",
			applogger.String("correlation_id", msg.CorrelationID),
			applogger.String("topic", w.resultsTopic),
			applogger.Error(err))
	}
}

var _ pkgkafka.MessageHandler = (*ScreeningWorker)(nil)
