package strategy

import (
	"fmt"
	"sort"
	"time"

	"Backtest/internal/domain/models"
	"Backtest/internal/feed"
	"Backtest/pkg/logger"
)

// Market is the read-only view of the feed a strategy may use.
type Market interface {
	Symbols() []string
	Time() time.Time
	Price(symbol string) (float64, error)
	Change(symbol string) (float64, error)
	Bars(symbol string, n int) (models.Bars, error)
	PastBars(symbol string, n int) (models.Bars, error)
	Today(symbol string) (models.Bar, error)
	Yesterday(symbol string) (models.Bar, error)
}

// ProfitFunc estimates the round-trip P&L of a trade with the portfolio's
// sizing and commission model.
type ProfitFunc func(direction models.Direction, entry, exit float64) float64

// Context is handed to every hook. It belongs to one portfolio and is only
// used from that portfolio's worker.
type Context struct {
	market Market
	subs   *feed.Subscriptions
	emit   func(models.Signal)
	profit ProfitFunc
	params map[string]float64
	log    *logger.Logger

	status map[string]*SymbolStatus
}

func NewContext(market Market, subs *feed.Subscriptions, emit func(models.Signal), profit ProfitFunc, params map[string]float64, log *logger.Logger) *Context {
	status := make(map[string]*SymbolStatus)
	for _, s := range market.Symbols() {
		status[s] = &SymbolStatus{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Context{
		market: market,
		subs:   subs,
		emit:   emit,
		profit: profit,
		params: params,
		log:    log,
		status: status,
	}
}

func (c *Context) Logger() *logger.Logger { return c.log }

// Param returns a numeric strategy parameter or def when unset.
func (c *Context) Param(name string, def float64) float64 {
	if v, ok := c.params[name]; ok {
		return v
	}
	return def
}

// Signals. A zero price executes at the current price. Each call is ignored
// unless the symbol is in the matching state: Buy and Short need a neutral
// symbol, Sell a long one and Cover a short one.

func (c *Context) Buy(symbol string, price float64) error {
	if !c.IsNeutral(symbol) {
		return nil
	}
	return c.signal(models.Buy, symbol, price)
}

func (c *Context) Sell(symbol string, price float64) error {
	if !c.IsLong(symbol) {
		return nil
	}
	return c.signal(models.Sell, symbol, price)
}

func (c *Context) Short(symbol string, price float64) error {
	if !c.IsNeutral(symbol) {
		return nil
	}
	return c.signal(models.Short, symbol, price)
}

func (c *Context) Cover(symbol string, price float64) error {
	if !c.IsShort(symbol) {
		return nil
	}
	return c.signal(models.Cover, symbol, price)
}

func (c *Context) signal(dir models.Direction, symbol string, price float64) error {
	st, ok := c.status[symbol]
	if !ok {
		return fmt.Errorf("signal %s: unknown symbol %q", dir, symbol)
	}
	if price == 0 {
		p, err := c.market.Price(symbol)
		if err != nil {
			return err
		}
		price = p
	}
	st.update(dir, price, c.market.Time())
	c.emit(models.Signal{Symbol: symbol, Direction: dir, Price: price, CreatedAt: c.market.Time()})
	return nil
}

// Subscriptions

func (c *Context) Subscribe(symbol string) { c.subs.Subscribe(symbol) }

func (c *Context) Unsubscribe(symbol string) { c.subs.Unsubscribe(symbol) }

// UnsubscribeAll mutes every scoped hook until the next market open.
func (c *Context) UnsubscribeAll() { c.subs.UnsubscribeAll() }

func (c *Context) IsSubscribed(symbol string) bool { return c.subs.Wants(symbol) }

// Market data

func (c *Context) Symbols() []string { return c.market.Symbols() }

func (c *Context) Time() time.Time { return c.market.Time() }

func (c *Context) Price(symbol string) (float64, error) { return c.market.Price(symbol) }

func (c *Context) Change(symbol string) (float64, error) { return c.market.Change(symbol) }

func (c *Context) Bars(symbol string, n int) (models.Bars, error) { return c.market.Bars(symbol, n) }

func (c *Context) PastBars(symbol string, n int) (models.Bars, error) {
	return c.market.PastBars(symbol, n)
}

func (c *Context) Today(symbol string) (models.Bar, error) { return c.market.Today(symbol) }

func (c *Context) Yesterday(symbol string) (models.Bar, error) { return c.market.Yesterday(symbol) }

// Symbol status

func (c *Context) Status(symbol string) SymbolStatus {
	if st, ok := c.status[symbol]; ok {
		return *st
	}
	return SymbolStatus{}
}

func (c *Context) IsLong(symbol string) bool { return c.Status(symbol).Side == models.Buy }

func (c *Context) IsShort(symbol string) bool { return c.Status(symbol).Side == models.Short }

func (c *Context) IsNeutral(symbol string) bool {
	_, ok := c.status[symbol]
	return ok && c.Status(symbol).Side == ""
}

func (c *Context) LongSymbols() []string { return c.withSide(models.Buy) }

func (c *Context) ShortSymbols() []string { return c.withSide(models.Short) }

func (c *Context) withSide(side models.Direction) []string {
	var out []string
	for s, st := range c.status {
		if st.Side == side {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// TradeProfitability estimates the P&L of entering at entry and leaving at exit.
func (c *Context) TradeProfitability(direction models.Direction, entry, exit float64) float64 {
	if c.profit == nil {
		return 0
	}
	return c.profit(direction, entry, exit)
}
