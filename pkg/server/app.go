package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	pkgch "FinScreen/pkg/clickhouse"
	"FinScreen/pkg/config"
	xhttp "FinScreen/pkg/http"
	pkgkafka "FinScreen/pkg/kafka"
	applogger "FinScreen/pkg/logger"
)

// Queue is the lifecycle surface shared by the in-memory and Redis queues.
type Queue interface {
	Start() error
	Stop(ctx context.Context) error
}

// App encapsulates the application lifecycle: it starts the queues, the
// Kafka worker and the HTTP server, then blocks until a shutdown signal and
// stops everything in reverse order.
type App struct {
	cfg      *config.Config
	logger   *applogger.Logger
	server   *xhttp.Server
	consumer *pkgkafka.Consumer
	kh       pkgkafka.MessageHandler
	producer *pkgkafka.Producer
	chClient *pkgch.Client
	queues   []Queue
	closers  []io.Closer
}

// AppOption wires an optional component into the App.
type AppOption func(*App)

// WithKafkaWorker runs handler against consumer for the app's lifetime.
func WithKafkaWorker(consumer *pkgkafka.Consumer, handler pkgkafka.MessageHandler) AppOption {
	return func(a *App) {
		a.consumer = consumer
		a.kh = handler
	}
}

// WithProducer closes the Kafka producer on shutdown.
func WithProducer(p *pkgkafka.Producer) AppOption {
	return func(a *App) { a.producer = p }
}

// WithClickHouse closes the ClickHouse client on shutdown.
func WithClickHouse(c *pkgch.Client) AppOption {
	return func(a *App) { a.chClient = c }
}

// WithQueues starts the queues with the app and stops them on shutdown.
func WithQueues(queues ...Queue) AppOption {
	return func(a *App) { a.queues = append(a.queues, queues...) }
}

// WithClosers registers resources closed last on shutdown, caches included.
func WithClosers(closers ...io.Closer) AppOption {
	return func(a *App) { a.closers = append(a.closers, closers...) }
}

// New creates a new App instance around its mandatory dependencies.
func New(cfg *config.Config, lgr *applogger.Logger, server *xhttp.Server, opts ...AppOption) *App {
	a := &App{
		cfg:    cfg,
		logger: lgr,
		server: server,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, q := range a.queues {
		if err := q.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.logger.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.server.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}
	a.logger.Info("server started",
		applogger.String("app", a.cfg.App.Name),
		applogger.String("environment", a.cfg.App.Environment),
		applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops components in reverse start order: no new HTTP requests,
// then no new queue or Kafka work, then infrastructure clients.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	for _, q := range a.queues {
		if err := q.Stop(shutdownCtx); err != nil {
			a.logger.Warn("queue stop error", applogger.Error(err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
