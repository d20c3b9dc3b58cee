//go:build !wireinject
// +build !wireinject

package di

import (
	"Backtest/pkg/config"
	"Backtest/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application. It
// mirrors the provider set in wire.go; keep the two in sync.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	loggerLogger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	registry := ProvidePrometheusRegistry()
	metrics := ProvideMetrics(cfg, registry)
	client, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	barSource, err := ProvideBarSource(cfg, client, loggerLogger)
	if err != nil {
		return nil, err
	}
	strategyRegistry := ProvideStrategyRegistry()
	resultStore, err := ProvideResultStore(cfg, client)
	if err != nil {
		return nil, err
	}
	producer, err := ProvideKafkaProducer(cfg, registry)
	if err != nil {
		return nil, err
	}
	resultPublisher := ProvideResultPublisher(cfg, producer)
	redisCache, err := ProvideRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	service := ProvideCache(cfg, redisCache)
	reportCache := ProvideReportCache(service)
	broker := ProvideBroker(cfg, loggerLogger)
	jobPublisher := ProvideQueuePublisher(cfg, redisCache, loggerLogger)
	backtester, err := ProvideBacktester(cfg, barSource, strategyRegistry, resultStore, resultPublisher, reportCache, broker, jobPublisher, metrics, loggerLogger)
	if err != nil {
		return nil, err
	}
	runJob := ProvideRunJob(backtester, service, loggerLogger)
	jobConsumer := ProvideQueueConsumer(cfg, redisCache, runJob, loggerLogger)
	reports := ProvideReports(cfg, resultStore, reportCache)
	runsHandler := ProvideRunsHandler(cfg, loggerLogger, backtester, reports, strategyRegistry)
	httpServer := ProvideHTTPServer(cfg, loggerLogger, runsHandler, registry)
	app := ProvideApp(cfg, loggerLogger, backtester, jobConsumer, jobPublisher, httpServer, resultStore, resultPublisher, service, client)
	return app, nil
}
