package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"Backtest/internal/broker"
	"Backtest/internal/domain/repository"
	"Backtest/internal/handler/api"
	internalrepo "Backtest/internal/repository"
	"Backtest/internal/strategy"
	"Backtest/internal/usecase"
	"Backtest/pkg/cache"
	pkgch "Backtest/pkg/clickhouse"
	"Backtest/pkg/config"
	xhttp "Backtest/pkg/http"
	"Backtest/pkg/http/middleware"
	pkgkafka "Backtest/pkg/kafka"
	"Backtest/pkg/logger"
	"Backtest/pkg/metrics"
	"Backtest/pkg/queue"
	"Backtest/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvidePrometheusRegistry creates the registry served on the metrics path.
func ProvidePrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.NewWithRegisterer(reg)
}

// ProvideClickHouseClient creates a ClickHouse client when the feed or the
// result store needs one.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Feed.Source != "clickhouse" && cfg.Results.Store != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideBarSource selects where raw bars are read from.
func ProvideBarSource(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (repository.BarSource, error) {
	switch cfg.Feed.Source {
	case "clickhouse":
		opts, err := cfg.FeedOptions()
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ch.InitSchema(ctx, []string{fmt.Sprintf(internalrepo.BarsTableDDL, cfg.Feed.Table)}); err != nil {
			return nil, fmt.Errorf("clickhouse bars schema: %w", err)
		}
		src := internalrepo.NewCHBarSource(ch, cfg.Feed.Table, opts.DateFrom, opts.DateTo)
		src.SetLogger(l)
		return src, nil
	default:
		return internalrepo.NewCSVBarSource(cfg.Feed.CSVDir), nil
	}
}

// ProvideResultStore opens and initialises the configured result store.
func ProvideResultStore(cfg *config.Config, ch *pkgch.Client) (repository.ResultStore, error) {
	var store repository.ResultStore
	switch cfg.Results.Store {
	case "clickhouse":
		store = internalrepo.NewCHResultStore(ch, cfg.ClickHouse.Database)
	case "sqlite":
		s, err := internalrepo.OpenSQLiteResultStore(cfg.Results.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("result store schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer when results are published.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Results.Publish {
		return nil, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithDelivery(k.RequiredAcks, k.Producer.MaxAttempts),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithKeyedPartitions(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideResultPublisher creates the Kafka result publisher.
func ProvideResultPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.ResultPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaResultPublisher(producer, cfg.Kafka.ReportTopic, cfg.Kafka.TradesTopic)
}

// ProvideRedisCache connects to Redis when enabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	r := cfg.Redis
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(r.Host, r.Port),
		cache.WithRedisAuth(r.Password, r.DB),
		cache.WithRedisPrefix(r.Prefix),
		cache.WithRedisPool(r.Pool.Size, r.Pool.MinIdle, r.Pool.WaitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache falls back to an in-process cache without Redis.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return rc
	}
	return cache.NewMemoryCache(cache.WithMemoryLimits(cfg.Results.MemoryCacheEntries, cfg.Results.MemoryCacheSweep))
}

// ProvideReportCache creates the run cache used by the report API.
func ProvideReportCache(c cache.Service) repository.ReportCache {
	return internalrepo.NewCachedReports(c)
}

// ProvideBroker creates the live broker session when a gateway is configured.
func ProvideBroker(cfg *config.Config, l *logger.Logger) repository.Broker {
	if cfg.Broker.WebSocketURL == "" {
		return nil
	}
	return broker.New(cfg.Broker.WebSocketURL, cfg.Broker.APIKey,
		broker.WithPingInterval(cfg.Broker.PingInterval),
		broker.WithHeartbeatTimeout(cfg.Broker.HeartbeatTimeout),
		broker.WithLogger(l),
	)
}

// ProvideStrategyRegistry returns the bundled strategy kinds.
func ProvideStrategyRegistry() *strategy.Registry {
	return strategy.Builtins()
}

// JobPublisher and JobConsumer tell the two ends of the run queue apart.
// Either wraps a nil queue when the queue is disabled.
type (
	JobPublisher struct{ *queue.RedisQueue }
	JobConsumer  struct{ *queue.RedisQueue }
)

// ProvideQueuePublisher creates the job publisher when the queue is enabled.
func ProvideQueuePublisher(cfg *config.Config, rc *cache.RedisCache, l *logger.Logger) JobPublisher {
	if !cfg.Queue.Enabled || rc == nil {
		return JobPublisher{}
	}
	return JobPublisher{queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))}
}

// ProvideBacktester creates the backtest use case.
func ProvideBacktester(
	cfg *config.Config,
	bars repository.BarSource,
	registry *strategy.Registry,
	store repository.ResultStore,
	publisher repository.ResultPublisher,
	reports repository.ReportCache,
	br repository.Broker,
	jobs JobPublisher,
	m repository.Metrics,
	l *logger.Logger,
) (*usecase.Backtester, error) {
	feed, err := cfg.FeedOptions()
	if err != nil {
		return nil, err
	}
	opts := []usecase.BacktesterOption{
		usecase.WithReportCache(reports),
		usecase.WithMetrics(m),
		usecase.WithLogger(l),
	}
	if store != nil {
		opts = append(opts, usecase.WithResultStore(store))
	}
	if publisher != nil {
		opts = append(opts, usecase.WithPublisher(publisher))
	}
	if br != nil {
		opts = append(opts, usecase.WithLiveBroker(br))
	}
	if jobs.RedisQueue != nil {
		opts = append(opts, usecase.WithQueue(jobs.RedisQueue))
	}
	return usecase.NewBacktester(bars, registry, usecase.Options{
		Feed:      feed,
		Portfolio: cfg.Portfolio,
		Parallel:  cfg.Replay.Parallel,
		Workers:   cfg.Replay.Workers,
		SortBy:    cfg.Results.SortBy,
		SortDesc:  cfg.Results.SortOrder == "desc",
		CacheTTL:  cfg.Results.CacheTTL,
	}, opts...), nil
}

// ProvideRunJob creates the queue job that executes submitted runs.
func ProvideRunJob(bt *usecase.Backtester, c cache.Service, l *logger.Logger) *usecase.RunJob {
	return usecase.NewRunJob(bt, c, l)
}

// ProvideQueueConsumer creates the job consumer when the queue is enabled.
func ProvideQueueConsumer(cfg *config.Config, rc *cache.RedisCache, job *usecase.RunJob, l *logger.Logger) JobConsumer {
	if !cfg.Queue.Enabled || rc == nil {
		return JobConsumer{}
	}
	return JobConsumer{queue.NewRedisConsumer(l, &queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), []queue.Job{job}, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))}
}

// ProvideReports creates the report query use case.
func ProvideReports(cfg *config.Config, store repository.ResultStore, reports repository.ReportCache) *usecase.Reports {
	return usecase.NewReports(store, reports, cfg.Results.CacheTTL)
}

// ProvideRunsHandler creates the HTTP handler.
func ProvideRunsHandler(cfg *config.Config, l *logger.Logger, bt *usecase.Backtester, reports *usecase.Reports, registry *strategy.Registry) *api.RunsHandler {
	h := api.NewRunsHandler(l, bt, reports, registry)
	if cfg.Server.SubmitBurst > 0 {
		h.WithSubmitLimit(middleware.NewLimiter(float64(cfg.Server.SubmitBurst), cfg.Server.SubmitPerMinute/60))
	}
	return h
}

// ProvideHTTPServer creates the HTTP server when enabled.
func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, h *api.RunsHandler, reg *prometheus.Registry) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	}
	return xhttp.NewServer(l, []xhttp.Handler{h}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	bt *usecase.Backtester,
	consumer JobConsumer,
	publisher JobPublisher,
	httpServer *xhttp.Server,
	store repository.ResultStore,
	resultPublisher repository.ResultPublisher,
	c cache.Service,
	ch *pkgch.Client,
) *server.App {
	var closers []io.Closer
	if ch != nil {
		closers = append(closers, ch)
	}
	if c != nil {
		closers = append(closers, c)
	}
	if store != nil {
		closers = append(closers, store)
	}
	if resultPublisher != nil {
		closers = append(closers, resultPublisher)
	}
	return server.New(cfg, l, bt, consumer.RedisQueue, publisher.RedisQueue, httpServer, closers...)
}
