//go:build wireinject
// +build wireinject

package di

import (
	"FinScreen/pkg/config"
	"FinScreen/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Foundation
		ProvideLogger,
		ProvideMetricsRecorder,

		// Infrastructure clients
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Screening data providers
		ProvideProvider,
		ProvideCachedProvider,

		// Pipeline collaborators
		ProvideRegistry,
		ProvideAuditLogger,
		ProvideBreakerGroup,
		ProvideRetrier,
		ProvideHealthMonitor,
		ProvideSnapshotManager,
		ProvideVersionManager,
		ProvideRequestValidator,
		ProvideDataValidator,

		// Use cases
		ProvideScreener,
		ProvideScreeningWorker,

		// Queues
		ProvideMemoryQueue,
		ProvideDeferredQueue,

		// HTTP surface
		ProvideHandler,
		ProvideServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
