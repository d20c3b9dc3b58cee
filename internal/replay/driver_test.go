package replay

import (
	"context"
	"math"
	"testing"
	"time"

	"Backtest/internal/domain/models"
	"Backtest/internal/feed"
	"Backtest/internal/portfolio"
	"Backtest/internal/strategy"
)

func bars(symbol string, n int, base float64) []models.Bar {
	start := time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := range out {
		p := base + 3*math.Sin(float64(i)/3)
		out[i] = models.Bar{Symbol: symbol, Time: start.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p + 0.25}
	}
	return out
}

func newFeed() *feed.Feed {
	return feed.New(map[string][]models.Bar{"AAA": bars("AAA", 80, 50), "BBB": bars("BBB", 80, 30)})
}

func settings() models.PortfolioSettings {
	return models.PortfolioSettings{
		InitialCapital:        100000,
		MaxLongPositions:      2,
		AdjustPositionDown:    true,
		CommissionPct:         0.0008,
		MaxSlippage:           0.0005,
		RoundLotSize:          10,
		RoundDecimals:         2,
		RoundDecimalsBelowOne: 3,
	}
}

type panicky struct {
	strategy.Base
	day int
}

func (p *panicky) BeforeOpen(*strategy.Context) error {
	p.day++
	if p.day == 10 {
		panic("boom")
	}
	return nil
}

func build(t *testing.T, f *feed.Feed, strats ...strategy.Strategy) []*portfolio.Portfolio {
	t.Helper()
	var out []*portfolio.Portfolio
	for _, s := range strats {
		p, err := portfolio.New(s, f, settings())
		if err != nil {
			t.Fatalf("portfolio %s: %v", s.Name(), err)
		}
		out = append(out, p)
	}
	return out
}

func runWith(t *testing.T, opts ...Option) []*portfolio.Portfolio {
	t.Helper()
	f := newFeed()
	ma, _ := strategy.NewMACrossover("ma", map[string]float64{"fast": 3, "slow": 8})
	bb, _ := strategy.NewBollingerReversion("bb", map[string]float64{"window": 10, "k": 1})
	bh, _ := strategy.NewBuyAndHold("bh", nil)
	ps := build(t, f, ma, bb, bh, &panicky{Base: strategy.Base{ID: "panicky"}})
	d := New(f, ps, opts...)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	fails := d.Failures()
	if len(fails) != 1 || fails["panicky"] == nil {
		t.Fatalf("failures = %v", fails)
	}
	return ps
}

func TestParallelMatchesSequential(t *testing.T) {
	seq := runWith(t)
	par := runWith(t, WithParallel(3))
	for i := range seq {
		if seq[i].Err() != nil {
			continue
		}
		a, b := seq[i].History(), par[i].History()
		if len(a) != len(b) || len(a) != 80 {
			t.Fatalf("%s: history %d vs %d", seq[i].Name(), len(a), len(b))
		}
		for j := range a {
			if a[j].Total != b[j].Total || a[j].Cash != b[j].Cash {
				t.Fatalf("%s bar %d: %+v vs %+v", seq[i].Name(), j, a[j], b[j])
			}
		}
		ta, tb := seq[i].Trades(), par[i].Trades()
		if len(ta) != len(tb) {
			t.Fatalf("%s: %d vs %d trades", seq[i].Name(), len(ta), len(tb))
		}
		for j := range ta {
			if ta[j].PnL != tb[j].PnL {
				t.Fatalf("%s trade %d pnl %v vs %v", seq[i].Name(), j, ta[j].PnL, tb[j].PnL)
			}
		}
	}
}

func TestFailureIsIsolated(t *testing.T) {
	ps := runWith(t, WithParallel(0))
	for _, p := range ps {
		if p.Name() == "panicky" {
			if len(p.History()) >= 80 {
				t.Fatal("failed portfolio should stop receiving bars")
			}
			continue
		}
		if p.Err() != nil {
			t.Fatalf("%s failed: %v", p.Name(), p.Err())
		}
	}
	var bh *portfolio.Portfolio
	for _, p := range ps {
		if p.Name() == "bh" {
			bh = p
		}
	}
	trades := bh.Trades()
	if len(trades) != 2 {
		t.Fatalf("buy and hold should hold two fake-closed trades, got %d", len(trades))
	}
	for _, tr := range trades {
		if !tr.FakeClosed {
			t.Fatalf("trade %+v should be fake closed", tr)
		}
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	f := newFeed()
	ps := build(t, f, &strategy.Base{ID: "idle"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(f, ps).Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
