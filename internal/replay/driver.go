// Package replay owns the clock of a run: it advances the shared feed and
// dispatches every sub-event to every live portfolio before moving on.
package replay

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	"Backtest/internal/feed"
	"Backtest/internal/portfolio"
	"Backtest/pkg/logger"
	"Backtest/pkg/metrics"
)

type Driver struct {
	feed       *feed.Feed
	portfolios []*portfolio.Portfolio
	parallel   bool
	workers    int
	log        *logger.Logger
	metrics    repository.Metrics
}

type Option func(*Driver)

// WithParallel evaluates portfolios for the same event on up to workers
// goroutines. Zero workers means GOMAXPROCS.
func WithParallel(workers int) Option {
	return func(d *Driver) {
		d.parallel = true
		d.workers = workers
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(d *Driver) { d.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

func New(f *feed.Feed, portfolios []*portfolio.Portfolio, opts ...Option) *Driver {
	d := &Driver{
		feed:       f,
		portfolios: portfolios,
		log:        logger.Nop(),
		metrics:    metrics.Nop{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.workers <= 0 {
		d.workers = runtime.GOMAXPROCS(0)
	}
	return d
}

// Run replays the feed to its end. A portfolio failing stops only that
// portfolio; Run returns an error only when ctx is cancelled. Surviving
// portfolios are finalized.
func (d *Driver) Run(ctx context.Context) error {
	started := time.Now()
	bars := 0
	defer func() {
		d.metrics.RecordLatency("replay", time.Since(started).Seconds())
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, ok := d.feed.Advance()
		if !ok {
			break
		}
		bars++
		for _, ev := range events {
			d.feed.Enter(ev)
			d.dispatch(ctx, ev)
		}
		if d.alive() == 0 {
			d.log.Warn("every portfolio failed, stopping replay early", logger.Int("bars", bars))
			break
		}
	}

	for _, p := range d.portfolios {
		if p.Err() == nil {
			p.Finalize()
		}
	}
	d.log.Info("replay finished",
		logger.Int("bars", bars),
		logger.Int("portfolios", len(d.portfolios)),
		logger.Int("failed", len(d.portfolios)-d.alive()),
		logger.Duration("elapsed", time.Since(started)))
	return nil
}

func (d *Driver) alive() int {
	n := 0
	for _, p := range d.portfolios {
		if p.Err() == nil {
			n++
		}
	}
	return n
}

// dispatch hands ev to every live portfolio and returns once all are drained.
func (d *Driver) dispatch(ctx context.Context, ev models.MarketEvent) {
	if !d.parallel || len(d.portfolios) < 2 {
		for _, p := range d.portfolios {
			if p.Err() == nil {
				d.safeDispatch(ctx, p, ev)
			}
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, p := range d.portfolios {
		if p.Err() != nil {
			continue
		}
		p := p
		g.Go(func() error {
			d.safeDispatch(ctx, p, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// safeDispatch turns a panic in strategy code into a failure of that portfolio.
func (d *Driver) safeDispatch(ctx context.Context, p *portfolio.Portfolio, ev models.MarketEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordError("strategy_panic")
			p.Fail(fmt.Errorf("panic in strategy %s during %s %s: %v", p.Name(), ev.SubType, ev.Symbol, r))
		}
	}()
	if err := p.Dispatch(ctx, ev); err != nil {
		d.metrics.RecordError("portfolio")
	}
}

// Failures maps each failed portfolio to the error that stopped it.
func (d *Driver) Failures() map[string]error {
	out := make(map[string]error)
	for _, p := range d.portfolios {
		if err := p.Err(); err != nil {
			out[p.Name()] = err
		}
	}
	return out
}
