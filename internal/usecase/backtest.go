package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"Backtest/internal/domain/models"
	drepo "Backtest/internal/domain/repository"
	"Backtest/internal/feed"
	"Backtest/internal/performance"
	"Backtest/internal/portfolio"
	"Backtest/internal/replay"
	"Backtest/internal/strategy"
	"Backtest/pkg/config"
	"Backtest/pkg/logger"
	"Backtest/pkg/metrics"
	"Backtest/pkg/queue"
)

// Options are the run-independent knobs of the Backtester.
type Options struct {
	Feed      models.FeedOptions
	Portfolio models.PortfolioSettings
	Parallel  bool
	Workers   int
	SortBy    string
	SortDesc  bool
	CacheTTL  time.Duration
}

// Backtester loads a feed, replays it over one portfolio per strategy,
// aggregates the results and hands them to the configured sinks.
type Backtester struct {
	bars      drepo.BarSource
	registry  *strategy.Registry
	store     drepo.ResultStore
	publisher drepo.ResultPublisher
	cache     drepo.ReportCache
	broker    drepo.Broker
	queue     queue.Publisher
	metrics   drepo.Metrics
	log       *logger.Logger
	opts      Options

	liveMu sync.Mutex
}

type BacktesterOption func(*Backtester)

func WithResultStore(s drepo.ResultStore) BacktesterOption {
	return func(b *Backtester) { b.store = s }
}

func WithPublisher(p drepo.ResultPublisher) BacktesterOption {
	return func(b *Backtester) { b.publisher = p }
}

func WithReportCache(c drepo.ReportCache) BacktesterOption {
	return func(b *Backtester) { b.cache = c }
}

// WithLiveBroker enables portfolios whose settings select live mode.
func WithLiveBroker(br drepo.Broker) BacktesterOption {
	return func(b *Backtester) { b.broker = br }
}

func WithMetrics(m drepo.Metrics) BacktesterOption {
	return func(b *Backtester) { b.metrics = m }
}

func WithLogger(l *logger.Logger) BacktesterOption {
	return func(b *Backtester) { b.log = l }
}

// NewBacktester creates a new Backtester instance.
func NewBacktester(bars drepo.BarSource, registry *strategy.Registry, opts Options, options ...BacktesterOption) *Backtester {
	if opts.SortBy == "" {
		opts.SortBy = performance.ColSharpe
	}
	b := &Backtester{
		bars:     bars,
		registry: registry,
		opts:     opts,
		metrics:  metrics.Nop{},
		log:      logger.Nop(),
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// Run replays spec to completion. Individual strategy failures are reported
// as failed rows; an error is returned only when the run as a whole could
// not be carried out.
func (b *Backtester) Run(ctx context.Context, spec models.RunSpec) (*models.RunResult, error) {
	if spec.RunID == "" {
		spec.RunID = uuid.NewString()
	}
	log := b.log.With(logger.String("run_id", spec.RunID))
	run := &models.RunResult{
		RunID:     spec.RunID,
		Status:    models.RunRunning,
		Symbols:   spec.Feed.Symbols,
		DateFrom:  spec.Feed.DateFrom,
		DateTo:    spec.Feed.DateTo,
		StartedAt: time.Now().UTC(),
	}
	b.record(ctx, log, run, false)

	result, err := b.replay(ctx, log, spec, run)
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now().UTC()
		log.Error("run failed", logger.Error(err))
		b.metrics.RecordError("run")
		b.record(ctx, log, run, false)
		return run, err
	}
	b.record(ctx, log, result, true)
	return result, nil
}

func (b *Backtester) replay(ctx context.Context, log *logger.Logger, spec models.RunSpec, run *models.RunResult) (*models.RunResult, error) {
	if len(spec.Strategies) == 0 {
		return nil, errors.New("no strategies to run")
	}

	start := time.Now()
	f, err := feed.Load(ctx, b.bars, spec.Feed)
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}
	b.metrics.RecordLatency("feed_load", time.Since(start).Seconds())
	run.Symbols = f.Symbols()
	run.DateFrom, run.DateTo = f.Range()
	log.Info("feed loaded",
		logger.Strings("symbols", run.Symbols),
		logger.Int("bars", f.Len()),
		logger.Time("from", run.DateFrom),
		logger.Time("to", run.DateTo))

	portfolios, router, err := b.portfolios(f, spec.Strategies, log)
	if err != nil {
		return nil, err
	}
	if router != nil {
		// one live session at a time per broker
		b.liveMu.Lock()
		defer b.liveMu.Unlock()
		if err := router.start(ctx); err != nil {
			return nil, fmt.Errorf("start live broker: %w", err)
		}
		defer router.stop()
	}

	dopts := []replay.Option{replay.WithLogger(log), replay.WithMetrics(b.metrics)}
	if b.opts.Parallel {
		dopts = append(dopts, replay.WithParallel(b.opts.Workers))
	}
	driver := replay.New(f, portfolios, dopts...)
	if err := driver.Run(ctx); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	start = time.Now()
	failed := driver.Failures()
	var perfs []*models.Performance
	for _, p := range portfolios {
		if _, ok := failed[p.Name()]; ok {
			continue
		}
		perf, err := performance.Calc(p.Name(), p.History(), p.Trades(), p.Settings().ThresholdDangerousTrade)
		if err != nil {
			failed[p.Name()] = err
			continue
		}
		if fin, ok := p.Strategy().(strategy.Finisher); ok {
			fin.Done(perf)
		}
		perfs = append(perfs, perf)
	}
	b.metrics.RecordLatency("performance", time.Since(start).Seconds())

	table := performance.NewTable(perfs, failed)
	if err := table.Sort(b.opts.SortBy, b.opts.SortDesc); err != nil {
		return nil, err
	}
	run.Rows = table
	run.Performances = perfs
	run.Status = models.RunFinished
	run.FinishedAt = time.Now().UTC()

	log.Info("run finished",
		logger.Int("strategies", len(portfolios)),
		logger.Int("failed", len(failed)),
		logger.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	log.Info("report\n" + table.String())
	return run, nil
}

func (b *Backtester) portfolios(f *feed.Feed, configs []models.StrategyRunConfig, log *logger.Logger) ([]*portfolio.Portfolio, *liveRouter, error) {
	var router *liveRouter
	seen := make(map[string]bool, len(configs))
	out := make([]*portfolio.Portfolio, 0, len(configs))
	for _, sc := range configs {
		if seen[sc.Name] {
			return nil, nil, fmt.Errorf("strategy name %q is used twice", sc.Name)
		}
		seen[sc.Name] = true

		settings, err := config.ResolvePortfolioSettings(b.opts.Portfolio, sc.Settings)
		if err != nil {
			return nil, nil, fmt.Errorf("strategy %s: %w", sc.Name, err)
		}
		strat, err := b.registry.New(sc.Kind, sc.Name, sc.Params)
		if err != nil {
			return nil, nil, err
		}

		opts := []portfolio.Option{
			portfolio.WithLogger(log),
			portfolio.WithMetrics(b.metrics),
			portfolio.WithParams(sc.Params),
		}
		var session *liveSession
		if settings.Mode == models.ModeLive {
			if b.broker == nil {
				return nil, nil, fmt.Errorf("strategy %s: live mode without a broker", sc.Name)
			}
			if router == nil {
				router = newLiveRouter(b.broker, log)
			}
			session = router.session()
			opts = append(opts, portfolio.WithBroker(session))
		}

		p, err := portfolio.New(strat, f, settings, opts...)
		if err != nil {
			return nil, nil, err
		}
		if session != nil {
			router.attach(session, p)
		}
		out = append(out, p)
	}
	return out, router, nil
}

// record hands run to the cache, the store and, once finished, the publisher.
// Sink failures are logged; they never fail the run.
func (b *Backtester) record(ctx context.Context, log *logger.Logger, run *models.RunResult, publish bool) {
	start := time.Now()
	if b.cache != nil {
		if err := b.cache.SetRun(ctx, run, b.opts.CacheTTL); err != nil {
			log.Warn("cache run", logger.Error(err))
		}
	}
	if b.store != nil {
		if err := b.store.SaveRun(ctx, run); err != nil {
			b.metrics.RecordError("persist")
			log.Error("save run", logger.Error(err))
		}
	}
	if publish && b.publisher != nil {
		if err := b.publisher.PublishRun(ctx, run); err != nil {
			b.metrics.RecordError("publish")
			log.Error("publish run", logger.Error(err))
		}
	}
	b.metrics.RecordLatency("persist", time.Since(start).Seconds())
}
