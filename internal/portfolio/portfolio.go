// Package portfolio runs one strategy against the shared feed: it drains the
// portfolio's event queue, turns signals into orders, books fills and keeps
// the per-bar accounting history.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	"Backtest/internal/event"
	"Backtest/internal/feed"
	"Backtest/internal/risk"
	"Backtest/internal/strategy"
	"Backtest/internal/trade"
	"Backtest/pkg/logger"
	"Backtest/pkg/metrics"
)

// Portfolio owns its queue, holdings, open trades and history. It is driven by
// one goroutine at a time; only OnFill and OnBrokerError may be called
// concurrently.
type Portfolio struct {
	name     string
	settings models.PortfolioSettings
	strategy strategy.Strategy
	market   strategy.Market
	risk     *risk.Engine
	exec     Execution
	broker   repository.Broker
	queue    *event.Queue
	subs     *feed.Subscriptions
	sctx     *strategy.Context
	params   map[string]float64
	log      *logger.Logger
	metrics  repository.Metrics

	symbols    []string
	holding    *models.Holding
	history    []models.Holding
	positions  map[string]float64
	pending    map[string]*models.Order
	openTrades map[string]*trade.Trade
	closed     []models.TradeRecord
	fake       []models.TradeRecord
	finalized  bool
	err        error

	brokerMu  sync.Mutex
	brokerErr error
}

type Option func(*Portfolio)

func WithLogger(l *logger.Logger) Option {
	return func(p *Portfolio) { p.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(p *Portfolio) { p.metrics = m }
}

// WithBroker sets the live collaborator used when the settings select live mode.
func WithBroker(b repository.Broker) Option {
	return func(p *Portfolio) { p.broker = b }
}

// WithParams passes numeric parameters through to the strategy context.
func WithParams(params map[string]float64) Option {
	return func(p *Portfolio) { p.params = params }
}

// New builds a portfolio for strat over market. Settings are resolved once
// here and never read from anywhere else afterwards.
func New(strat strategy.Strategy, market strategy.Market, settings models.PortfolioSettings, opts ...Option) (*Portfolio, error) {
	if strat == nil {
		return nil, errors.New("portfolio: nil strategy")
	}
	p := &Portfolio{
		name:       strat.Name(),
		settings:   settings.Resolve(),
		strategy:   strat,
		market:     market,
		queue:      event.NewQueue(),
		symbols:    market.Symbols(),
		positions:  make(map[string]float64),
		pending:    make(map[string]*models.Order),
		openTrades: make(map[string]*trade.Trade),
		log:        logger.Nop(),
		metrics:    metrics.Nop{},
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(logger.String("portfolio", p.name))
	p.risk = risk.New(p.settings)
	for _, s := range p.symbols {
		p.positions[s] = 0
	}

	switch p.settings.Mode {
	case models.ModeLive:
		if p.broker == nil {
			return nil, fmt.Errorf("portfolio %s: live mode needs a broker", p.name)
		}
		p.exec = NewBrokerExecution(p.broker)
	default:
		p.exec = NewSimulator(p.risk, market.Time, func(f models.Fill) { p.queue.Push(event.Fill(f)) })
	}

	p.subs = feed.NewSubscriptions(p.symbols)
	p.sctx = strategy.NewContext(market, p.subs, func(s models.Signal) { p.queue.Push(event.Signal(s)) },
		p.tradeProfitability, p.params, p.log)
	return p, nil
}

func (p *Portfolio) Name() string { return p.name }

func (p *Portfolio) Settings() models.PortfolioSettings { return p.settings }

func (p *Portfolio) Strategy() strategy.Strategy { return p.strategy }

// Err is the error that terminated the portfolio, if any.
func (p *Portfolio) Err() error { return p.err }

// Dispatch queues a market sub-event and drains the queue to completion. Once
// a fatal error is returned the portfolio ignores every later event.
func (p *Portfolio) Dispatch(ctx context.Context, ev models.MarketEvent) error {
	if p.err != nil {
		return p.err
	}
	p.queue.Push(event.Market(ev))
	if err := p.Drain(ctx); err != nil {
		p.Fail(err)
		return p.err
	}
	return nil
}

// Fail marks the portfolio terminated. The first error wins.
func (p *Portfolio) Fail(err error) {
	if p.err != nil || err == nil {
		return
	}
	p.err = err
	p.metrics.RecordError("portfolio_failed")
	p.log.Error("portfolio terminated", logger.Error(err))
}

// Drain processes queued events, highest priority first, until the queue is empty.
func (p *Portfolio) Drain(ctx context.Context) error {
	for {
		if err := p.brokerFailure(); err != nil {
			return err
		}
		ev, ok := p.queue.Pop()
		if !ok {
			return nil
		}
		p.metrics.RecordEvent(p.name, ev.Kind.String())

		var err error
		switch ev.Kind {
		case event.KindMarket:
			err = p.handleMarket(ev.Market)
		case event.KindDayEnd:
			err = p.MarketClosed()
		case event.KindSignal:
			err = p.GenerateOrders(ctx, *ev.Signal)
		case event.KindOrder:
			err = p.exec.Execute(ctx, ev.Order)
		case event.KindFill:
			err = p.UpdateFromFill(*ev.Fill)
		default:
			err = fmt.Errorf("unknown event kind %d", ev.Kind)
		}
		if err != nil {
			return err
		}
	}
}

func (p *Portfolio) handleMarket(ev models.MarketEvent) error {
	switch ev.SubType {
	case models.BeforeOpen:
		if err := p.MarketOpened(ev.Time); err != nil {
			return err
		}
		p.subs.Reset()
		return p.hook("before_open", "", func() error { return p.strategy.BeforeOpen(p.sctx) })
	case models.AfterClose:
		err := p.hook("after_close", "", func() error { return p.strategy.AfterClose(p.sctx) })
		p.queue.Push(event.DayEnd(ev))
		return err
	}

	if !p.subs.Wants(ev.Symbol) {
		return nil
	}
	switch ev.SubType {
	case models.Open:
		return p.hook("open", ev.Symbol, func() error { return p.strategy.Open(p.sctx, ev.Symbol) })
	case models.During:
		return p.hook("during", ev.Symbol, func() error { return p.strategy.During(p.sctx, ev.Symbol) })
	case models.Close:
		return p.hook("close", ev.Symbol, func() error { return p.strategy.Close(p.sctx, ev.Symbol) })
	}
	return fmt.Errorf("unknown market sub-type %q", ev.SubType)
}

// hook runs a strategy callback. Bar validation errors mean no signal this bar.
func (p *Portfolio) hook(name, symbol string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if errs.IsBarValidation(err) {
		p.log.Debug("hook skipped", logger.String("hook", name), logger.String("symbol", symbol), logger.Error(err))
		return nil
	}
	return fmt.Errorf("strategy %s %s %s: %w", p.name, name, symbol, err)
}

// OnFill accepts a fill from the live broker. Safe for concurrent use.
func (p *Portfolio) OnFill(f models.Fill) {
	p.queue.Push(event.Fill(f))
}

// OnBrokerError records the terminal error of the live session. It is
// surfaced on the next drain.
func (p *Portfolio) OnBrokerError(err error) {
	p.brokerMu.Lock()
	defer p.brokerMu.Unlock()
	if p.brokerErr == nil {
		p.brokerErr = err
	}
}

func (p *Portfolio) brokerFailure() error {
	p.brokerMu.Lock()
	defer p.brokerMu.Unlock()
	return p.brokerErr
}

func (p *Portfolio) tradeProfitability(dir models.Direction, entry, exit float64) float64 {
	acct, err := p.account()
	if err != nil {
		return 0
	}
	return p.risk.TradeProfitability(dir, entry, exit, acct)
}

func (p *Portfolio) now() time.Time { return p.market.Time() }
