package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
)

var reservedSymbols = map[string]struct{}{
	"cash":         {},
	"commission":   {},
	"total":        {},
	"returns":      {},
	"equity_curve": {},
	"datetime":     {},
}

// Load reads every symbol from src, normalizes and rounds it, checks the OHLC
// invariants on the real rows, reindexes all series onto the union of their
// timestamps with forward-fill and finally clips them to the date range.
func Load(ctx context.Context, src repository.BarSource, opts models.FeedOptions) (*Feed, error) {
	symbols := uniqueSorted(opts.Symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("feed: no symbols")
	}
	for _, s := range symbols {
		if _, ok := reservedSymbols[s]; ok {
			return nil, &errs.ReservedSymbolError{Symbol: s}
		}
	}

	raw := make(map[string][]models.Bar, len(symbols))
	var violations []string
	for _, s := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := src.LoadBars(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("feed: load %s: %w", s, err)
		}
		bars, err := normalize(s, rows, opts)
		if err != nil {
			return nil, err
		}
		violations = append(violations, checkBars(bars)...)
		raw[s] = bars
	}
	if len(violations) > 0 {
		return nil, &errs.BarInvariantError{Violations: violations}
	}

	index := unionIndex(raw)
	series := make(map[string][]models.Bar, len(symbols))
	for _, s := range symbols {
		series[s] = clip(reindex(s, raw[s], index), opts.DateFrom, opts.DateTo)
	}

	length := -1
	for _, s := range symbols {
		if length < 0 || len(series[s]) < length {
			length = len(series[s])
		}
	}
	if length == 0 {
		return nil, fmt.Errorf("feed: no bars between %s and %s", opts.DateFrom.Format(time.DateOnly), opts.DateTo.Format(time.DateOnly))
	}

	return newFeed(symbols, series), nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// normalize applies the adj_close ratio and rounding to one raw series.
func normalize(symbol string, rows []models.RawBar, opts models.FeedOptions) ([]models.Bar, error) {
	sorted := make([]models.RawBar, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := make([]models.Bar, 0, len(sorted))
	for i, r := range sorted {
		if i > 0 && r.Time.Equal(sorted[i-1].Time) {
			return nil, fmt.Errorf("feed: %s has duplicate bar at %s", symbol, r.Time.Format(time.DateTime))
		}
		o, h, l, c, v := r.Open, r.High, r.Low, r.Close, r.Volume
		if r.HasAdj {
			adj := round(r.AdjClose, opts.RoundDecimals)
			ratio := 1.0
			if c != 0 {
				ratio = adj / c
			}
			if opts.NormalizeVolume {
				v *= ratio
			}
			if opts.NormalizePrices {
				o, h, l = o*ratio, h*ratio, l*ratio
				c = adj
			}
		}
		out = append(out, models.Bar{
			Symbol: symbol,
			Time:   r.Time,
			Open:   round(o, opts.RoundDecimals),
			High:   round(h, opts.RoundDecimals),
			Low:    round(l, opts.RoundDecimals),
			Close:  round(c, opts.RoundDecimals),
			Volume: v,
		})
	}
	return out, nil
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func checkBars(bars []models.Bar) []string {
	var out []string
	add := func(b models.Bar, what string) {
		out = append(out, fmt.Sprintf("%s %s on %s", b.Symbol, what, b.Time.Format(time.DateTime)))
	}
	for _, b := range bars {
		if b.High < b.Low {
			add(b, "high < low")
		}
		if b.High < b.Open {
			add(b, "high < open")
		}
		if b.High < b.Close {
			add(b, "high < close")
		}
		if b.Low > b.Open {
			add(b, "low > open")
		}
		if b.Low > b.Close {
			add(b, "low > close")
		}
		if b.Volume < 0 {
			add(b, "volume < 0")
		}
	}
	return out
}

func unionIndex(series map[string][]models.Bar) []time.Time {
	seen := make(map[int64]time.Time)
	for _, bars := range series {
		for _, b := range bars {
			seen[b.Time.UnixNano()] = b.Time
		}
	}
	index := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		index = append(index, t)
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })
	return index
}

// reindex aligns bars onto index. Missing rows carry the previous close
// forward (zero before the first real bar) with zero volume.
func reindex(symbol string, bars []models.Bar, index []time.Time) []models.Bar {
	out := make([]models.Bar, 0, len(index))
	var last float64
	j := 0
	for _, t := range index {
		if j < len(bars) && bars[j].Time.Equal(t) {
			out = append(out, bars[j])
			last = bars[j].Close
			j++
			continue
		}
		out = append(out, models.Bar{
			Symbol: symbol,
			Time:   t,
			Open:   last,
			High:   last,
			Low:    last,
			Close:  last,
			Filled: true,
		})
	}
	return out
}

// clip keeps bars within [from, to]. A date-only bound includes its whole day.
func clip(bars []models.Bar, from, to time.Time) []models.Bar {
	start, end := 0, len(bars)
	if !from.IsZero() {
		for start < len(bars) && bars[start].Time.Before(from) {
			start++
		}
	}
	if !to.IsZero() {
		limit := to
		if isMidnight(to) {
			limit = to.AddDate(0, 0, 1)
			for end > start && !bars[end-1].Time.Before(limit) {
				end--
			}
		} else {
			for end > start && bars[end-1].Time.After(limit) {
				end--
			}
		}
	}
	return bars[start:end]
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
