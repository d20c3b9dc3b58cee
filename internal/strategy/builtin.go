package strategy

import (
	"fmt"

	"Backtest/internal/domain/models"
)

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// BuyAndHold buys every symbol at the first open it can and never sells.
type BuyAndHold struct {
	Base
}

func NewBuyAndHold(name string, _ map[string]float64) (Strategy, error) {
	return &BuyAndHold{Base: Base{ID: name}}, nil
}

func (s *BuyAndHold) Open(c *Context, symbol string) error {
	return c.Buy(symbol, 0)
}

// MACrossover goes long when the fast moving average of closes is above the
// slow one and exits when it drops below.
//
// Params: "fast" (default 5), "slow" (default 20).
type MACrossover struct {
	Base
	fast, slow int
}

func NewMACrossover(name string, params map[string]float64) (Strategy, error) {
	fast := int(param(params, "fast", 5))
	slow := int(param(params, "slow", 20))
	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("ma_crossover %s: need 0 < fast < slow, got %d/%d", name, fast, slow)
	}
	return &MACrossover{Base: Base{ID: name}, fast: fast, slow: slow}, nil
}

func (s *MACrossover) Close(c *Context, symbol string) error {
	bars, err := c.Bars(symbol, s.slow)
	if err != nil {
		return err
	}
	fast := bars[len(bars)-s.fast:].MAvg(models.FieldClose)
	slow := bars.MAvg(models.FieldClose)
	switch {
	case fast > slow:
		return c.Buy(symbol, 0)
	case fast < slow:
		return c.Sell(symbol, 0)
	}
	return nil
}

// BollingerReversion buys when the price trades below the lower band of the
// previous closes and exits at the mean. With "short" set to 1 it also sells
// short above the upper band.
//
// Params: "window" (default 20), "k" (default 2), "short" (default 0).
type BollingerReversion struct {
	Base
	window int
	k      float64
	short  bool
}

func NewBollingerReversion(name string, params map[string]float64) (Strategy, error) {
	window := int(param(params, "window", 20))
	if window < 2 {
		return nil, fmt.Errorf("bollinger_reversion %s: window must be at least 2, got %d", name, window)
	}
	return &BollingerReversion{
		Base:   Base{ID: name},
		window: window,
		k:      param(params, "k", 2),
		short:  param(params, "short", 0) != 0,
	}, nil
}

func (s *BollingerReversion) During(c *Context, symbol string) error {
	bars, err := c.PastBars(symbol, s.window)
	if err != nil {
		return err
	}
	price, err := c.Price(symbol)
	if err != nil {
		return err
	}
	mid, upper, lower := bars.Bollinger(s.k, models.FieldClose)
	switch {
	case c.IsLong(symbol) && price >= mid:
		return c.Sell(symbol, price)
	case c.IsShort(symbol) && price <= mid:
		return c.Cover(symbol, price)
	case price < lower:
		return c.Buy(symbol, price)
	case s.short && price > upper:
		return c.Short(symbol, price)
	}
	return nil
}
