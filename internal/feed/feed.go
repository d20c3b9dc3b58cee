// Package feed replays aligned bar series as a deterministic sequence of
// market sub-events and serves read-only price accessors to strategies.
package feed

import (
	"fmt"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
)

// Feed is the single clock of a replay. It is advanced and phased only by the
// replay driver; between those calls it is safe for concurrent reads.
type Feed struct {
	symbols []string
	series  map[string][]models.Bar
	cursor  int
	phase   models.Phase
}

// New builds a feed over already aligned series. Every series must share the
// same timestamps; Load is the usual way to get here.
func New(series map[string][]models.Bar) *Feed {
	return newFeed(uniqueSorted(keys(series)), series)
}

func newFeed(symbols []string, series map[string][]models.Bar) *Feed {
	return &Feed{symbols: symbols, series: series, cursor: -1}
}

func keys(m map[string][]models.Bar) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Symbols returns the sorted symbol universe.
func (f *Feed) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Len is the number of bars of the shortest series.
func (f *Feed) Len() int {
	n := -1
	for _, s := range f.symbols {
		if l := len(f.series[s]); n < 0 || l < n {
			n = l
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// Range returns the first and last timestamp of the replay.
func (f *Feed) Range() (time.Time, time.Time) {
	n := f.Len()
	if n == 0 {
		return time.Time{}, time.Time{}
	}
	bars := f.series[f.symbols[0]]
	return bars[0].Time, bars[n-1].Time
}

// Advance moves every series one bar forward in lock-step and returns the
// ordered sub-events of that bar. It reports false, without moving, as soon as
// any series is exhausted.
func (f *Feed) Advance() ([]models.MarketEvent, bool) {
	next := f.cursor + 1
	if len(f.symbols) == 0 {
		return nil, false
	}
	for _, s := range f.symbols {
		if next >= len(f.series[s]) {
			return nil, false
		}
	}
	f.cursor = next
	f.phase = models.PhaseBeforeOpen

	now := f.series[f.symbols[0]][next].Time
	events := make([]models.MarketEvent, 0, 2+4*len(f.symbols))
	events = append(events, models.MarketEvent{SubType: models.BeforeOpen, Phase: models.PhaseBeforeOpen, Time: now})
	for _, p := range []models.Phase{models.PhaseOpen, models.PhaseDuringFirst, models.PhaseDuringSecond, models.PhaseClose} {
		for _, s := range f.symbols {
			events = append(events, models.MarketEvent{SubType: p.SubType(), Phase: p, Symbol: s, Time: now})
		}
	}
	events = append(events, models.MarketEvent{SubType: models.AfterClose, Phase: models.PhaseAfterClose, Time: now})
	return events, true
}

// Enter sets the price context for ev. Every symbol's current price moves
// together before any event of the phase is dispatched.
func (f *Feed) Enter(ev models.MarketEvent) {
	f.phase = ev.Phase
}

// Phase is the current price context.
func (f *Feed) Phase() models.Phase {
	return f.phase
}

// Time is the timestamp of the bar being replayed.
func (f *Feed) Time() time.Time {
	if f.cursor < 0 || len(f.symbols) == 0 {
		return time.Time{}
	}
	return f.series[f.symbols[0]][f.cursor].Time
}

func (f *Feed) bars(symbol string) ([]models.Bar, error) {
	bars, ok := f.series[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownSymbol, symbol)
	}
	if f.cursor < 0 {
		return nil, &errs.NoBarsError{Symbol: symbol}
	}
	return bars, nil
}

// Price is the last recorded price of symbol for the current phase. Before the
// open it is the previous close. A bar with a zero close has no price.
func (f *Feed) Price(symbol string) (float64, error) {
	bars, err := f.bars(symbol)
	if err != nil {
		return 0, err
	}
	today := bars[f.cursor]
	if f.phase == models.PhaseBeforeOpen {
		if f.cursor == 0 {
			return 0, &errs.NoBarsError{Symbol: symbol}
		}
		today = bars[f.cursor-1]
	}
	if today.Close == 0 {
		return 0, &errs.StaleBarError{Symbol: symbol, Time: today.Time}
	}
	switch f.phase {
	case models.PhaseBeforeOpen:
		return today.Close, nil
	case models.PhaseOpen:
		return today.Open, nil
	case models.PhaseDuringFirst:
		if today.Close > today.Open {
			return today.Low, nil
		}
		return today.High, nil
	case models.PhaseDuringSecond:
		if today.Close > today.Open {
			return today.High, nil
		}
		return today.Low, nil
	default:
		return today.Close, nil
	}
}

// Change is the move from the previous close to the current price.
func (f *Feed) Change(symbol string) (float64, error) {
	price, err := f.Price(symbol)
	if err != nil {
		return 0, err
	}
	y, err := f.Yesterday(symbol)
	if err != nil {
		return 0, err
	}
	return price/y.Close - 1, nil
}

// Bars returns the last n bars including the one being replayed.
func (f *Feed) Bars(symbol string, n int) (models.Bars, error) {
	bars, err := f.bars(symbol)
	if err != nil {
		return nil, err
	}
	return window(symbol, bars, f.cursor+1, n)
}

// PastBars returns the last n completed bars, excluding the one being replayed.
func (f *Feed) PastBars(symbol string, n int) (models.Bars, error) {
	bars, err := f.bars(symbol)
	if err != nil {
		return nil, err
	}
	return window(symbol, bars, f.cursor, n)
}

// Today returns the bar being replayed.
func (f *Feed) Today(symbol string) (models.Bar, error) {
	bs, err := f.Bars(symbol, 1)
	if err != nil {
		return models.Bar{}, err
	}
	return bs[0], nil
}

// Yesterday returns the last completed bar.
func (f *Feed) Yesterday(symbol string) (models.Bar, error) {
	bs, err := f.PastBars(symbol, 1)
	if err != nil {
		return models.Bar{}, err
	}
	return bs[0], nil
}

// window copies bars[end-n:end] after checking history length and zero closes.
func window(symbol string, bars []models.Bar, end, n int) (models.Bars, error) {
	if n < 1 || end < n {
		return nil, &errs.InsufficientHistoryError{Symbol: symbol, Requested: n, Available: end}
	}
	out := make(models.Bars, n)
	copy(out, bars[end-n:end])
	for _, b := range out {
		if b.Close == 0 {
			return nil, &errs.StaleBarError{Symbol: symbol, Time: b.Time}
		}
	}
	return out, nil
}
