package portfolio

import (
	"fmt"
	"sort"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/risk"
	"Backtest/pkg/logger"
)

const moneyEpsilon = 1e-6

// MarketOpened starts the snapshot for a new bar. The first bar starts from the
// initial capital; later bars archive the previous snapshot and carry its cash,
// commission and total forward.
func (p *Portfolio) MarketOpened(at time.Time) error {
	if p.holding == nil {
		p.holding = &models.Holding{
			Time:      at,
			Cash:      p.settings.InitialCapital,
			Total:     p.settings.InitialCapital,
			Positions: p.positionsCopy(),
			Values:    make(map[string]float64, len(p.symbols)),
		}
		return nil
	}
	if !at.After(p.holding.Time) {
		return &errs.NonMonotonicTimeError{Previous: p.holding.Time, Current: at}
	}
	prev := *p.holding
	p.history = append(p.history, prev.Clone())
	p.holding = &models.Holding{
		Time:       at,
		Cash:       prev.Cash,
		Commission: prev.Commission,
		Total:      prev.Total,
		Positions:  p.positionsCopy(),
		Values:     cloneValues(prev.Values),
	}
	return nil
}

// MarketClosed freezes the day's mark-to-market and checks the invariants.
func (p *Portfolio) MarketClosed() error {
	if p.holding == nil {
		return errs.Invariantf("market closed before it opened")
	}
	if len(p.pending) > 0 && p.settings.Mode == models.ModeBacktest {
		p.log.Warn("market closed with pending orders", logger.Int("pending", len(p.pending)))
	}
	p.holding.OpenTrades = len(p.openTrades)
	p.holding.SubscribedSymbols = p.subs.Count()

	total, err := p.NetLiquidation()
	if err != nil {
		return fmt.Errorf("mark to market: %w", err)
	}
	p.holding.Total = total
	for _, s := range p.symbols {
		price, err := p.market.Price(s)
		if err != nil {
			price = 0
		}
		p.holding.Values[s] = p.positions[s] * price
	}
	p.holding.Positions = p.positionsCopy()
	p.metrics.RecordEquity(p.name, total)
	return p.VerifyConsistency()
}

// VerifyConsistency fails on negative cash, equity or commission and on more
// open positions than configured.
func (p *Portfolio) VerifyConsistency() error {
	h := p.holding
	if h == nil {
		return nil
	}
	if h.Cash < -moneyEpsilon || h.Total < -moneyEpsilon || h.Commission < -moneyEpsilon {
		return errs.Invariantf("negative holdings at %s: cash=%g total=%g commission=%g",
			h.Time.Format(time.DateTime), h.Cash, h.Total, h.Commission)
	}
	long, short := p.LongCount(), p.ShortCount()
	if long > p.settings.MaxLongPositions || short > p.settings.MaxShortPositions {
		return errs.Invariantf("too many open positions: %d/%d long, %d/%d short",
			long, p.settings.MaxLongPositions, short, p.settings.MaxShortPositions)
	}
	return nil
}

// Cash is the booked cash of the current snapshot.
func (p *Portfolio) Cash() float64 {
	if p.holding == nil {
		return p.settings.InitialCapital
	}
	return p.holding.Cash
}

// CashBalance is the cash not yet committed to pending BUY and COVER orders.
func (p *Portfolio) CashBalance() float64 {
	cash := p.Cash()
	for _, o := range p.pending {
		if o.Direction == models.Buy || o.Direction == models.Cover {
			cash -= o.RemainingCost()
		}
	}
	return cash
}

// NetLiquidation is cash plus every position valued at its last price.
func (p *Portfolio) NetLiquidation() (float64, error) {
	total := p.Cash()
	for _, s := range p.symbols {
		q := p.positions[s]
		if q == 0 {
			continue
		}
		price, err := p.market.Price(s)
		if err != nil {
			return 0, err
		}
		total += q * price
	}
	return total, nil
}

func (p *Portfolio) account() (risk.Account, error) {
	nl, err := p.NetLiquidation()
	if err != nil {
		return risk.Account{}, err
	}
	return risk.Account{Cash: p.CashBalance(), NetLiquidation: nl}, nil
}

// LongCount counts open long trades plus pending BUY orders.
func (p *Portfolio) LongCount() int { return p.count(models.Buy) }

// ShortCount counts open short trades plus pending SHORT orders.
func (p *Portfolio) ShortCount() int { return p.count(models.Short) }

func (p *Portfolio) count(dir models.Direction) int {
	n := 0
	for _, t := range p.openTrades {
		if t.Direction == dir {
			n++
		}
	}
	for _, o := range p.pending {
		if o.Direction == dir {
			if t, ok := p.openTrades[o.Symbol]; ok && t.OpenOrder == o {
				continue
			}
			n++
		}
	}
	return n
}

// Position is the signed quantity held in symbol.
func (p *Portfolio) Position(symbol string) float64 { return p.positions[symbol] }

// Holding returns a copy of the current snapshot.
func (p *Portfolio) Holding() (models.Holding, bool) {
	if p.holding == nil {
		return models.Holding{}, false
	}
	return p.holding.Clone(), true
}

// OpenTrades lists open trades ordered by symbol.
func (p *Portfolio) OpenTrades() []models.TradeRecord {
	syms := make([]string, 0, len(p.openTrades))
	for s := range p.openTrades {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	out := make([]models.TradeRecord, 0, len(syms))
	for _, s := range syms {
		rec := p.openTrades[s].Record()
		rec.Strategy = p.name
		out = append(out, rec)
	}
	return out
}

// Finalize archives the last snapshot and fake closes every open trade at its
// last price so it shows up in the statistics. It runs once.
func (p *Portfolio) Finalize() {
	if p.finalized {
		return
	}
	p.finalized = true
	if p.holding != nil {
		p.history = append(p.history, p.holding.Clone())
		p.holding = nil
	}
	syms := make([]string, 0, len(p.openTrades))
	for s := range p.openTrades {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		t := p.openTrades[s]
		if t.OpenFilled == 0 {
			continue
		}
		price, err := p.market.Price(s)
		if err != nil {
			p.log.Warn("cannot fake close trade", logger.String("symbol", s), logger.Error(err))
			continue
		}
		rec, err := t.FakeClose(p.now(), price)
		if err != nil {
			continue
		}
		rec.Strategy = p.name
		p.fake = append(p.fake, rec)
	}
}

// History returns the archived snapshots, oldest first.
func (p *Portfolio) History() []models.Holding {
	out := make([]models.Holding, len(p.history))
	copy(out, p.history)
	return out
}

// Trades returns closed trades followed by fake-closed ones.
func (p *Portfolio) Trades() []models.TradeRecord {
	out := make([]models.TradeRecord, 0, len(p.closed)+len(p.fake))
	out = append(out, p.closed...)
	return append(out, p.fake...)
}

func (p *Portfolio) positionsCopy() map[string]float64 {
	out := make(map[string]float64, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out
}

func cloneValues(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
