//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"Backtest/pkg/config"
	"Backtest/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvidePrometheusRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideBarSource,
		ProvideResultStore,
		ProvideResultPublisher,
		ProvideReportCache,
		ProvideBroker,
		ProvideStrategyRegistry,

		// Queue and use cases
		ProvideQueuePublisher,
		ProvideBacktester,
		ProvideRunJob,
		ProvideQueueConsumer,
		ProvideReports,

		// Transport
		ProvideRunsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
