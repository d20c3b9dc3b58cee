package strategy

import (
	"testing"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/feed"
)

type fakeMarket struct {
	prices map[string]float64
	bars   map[string]models.Bars
	now    time.Time
}

func (m *fakeMarket) Symbols() []string { return []string{"AAA", "BBB"} }
func (m *fakeMarket) Time() time.Time   { return m.now }

func (m *fakeMarket) Price(symbol string) (float64, error) {
	p, ok := m.prices[symbol]
	if !ok {
		return 0, &errs.NoBarsError{Symbol: symbol}
	}
	return p, nil
}

func (m *fakeMarket) Change(string) (float64, error) { return 0, nil }

func (m *fakeMarket) Bars(symbol string, n int) (models.Bars, error) {
	bs := m.bars[symbol]
	if len(bs) < n {
		return nil, &errs.InsufficientHistoryError{Symbol: symbol, Requested: n, Available: len(bs)}
	}
	return bs[len(bs)-n:], nil
}

func (m *fakeMarket) PastBars(symbol string, n int) (models.Bars, error) {
	bs := m.bars[symbol]
	if len(bs) < n+1 {
		return nil, &errs.InsufficientHistoryError{Symbol: symbol, Requested: n, Available: len(bs) - 1}
	}
	return bs[len(bs)-1-n : len(bs)-1], nil
}

func (m *fakeMarket) Today(symbol string) (models.Bar, error) {
	bs, err := m.Bars(symbol, 1)
	if err != nil {
		return models.Bar{}, err
	}
	return bs[0], nil
}

func (m *fakeMarket) Yesterday(symbol string) (models.Bar, error) {
	bs, err := m.PastBars(symbol, 1)
	if err != nil {
		return models.Bar{}, err
	}
	return bs[0], nil
}

func newTestContext(m *fakeMarket) (*Context, *[]models.Signal) {
	var sent []models.Signal
	subs := feed.NewSubscriptions(m.Symbols())
	c := NewContext(m, subs, func(s models.Signal) { sent = append(sent, s) }, nil, map[string]float64{"x": 3}, nil)
	return c, &sent
}

func TestSignalGating(t *testing.T) {
	m := &fakeMarket{prices: map[string]float64{"AAA": 10, "BBB": 20}}
	c, sent := newTestContext(m)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	must(c.Sell("AAA", 0))
	must(c.Cover("AAA", 0))
	if len(*sent) != 0 {
		t.Fatalf("exits on a neutral symbol must be ignored, got %v", *sent)
	}
	must(c.Buy("AAA", 0))
	must(c.Buy("AAA", 0))
	must(c.Short("AAA", 0))
	if len(*sent) != 1 || (*sent)[0].Price != 10 || !c.IsLong("AAA") {
		t.Fatalf("expected a single BUY at the current price, got %v", *sent)
	}
	must(c.Sell("AAA", 11))
	if !c.IsNeutral("AAA") || c.Status("AAA").ExitPrice != 11 {
		t.Fatalf("status after sell = %+v", c.Status("AAA"))
	}
	must(c.Short("BBB", 0))
	must(c.Cover("BBB", 0))
	if len(*sent) != 4 || (*sent)[2].Direction != models.Short || (*sent)[3].Direction != models.Cover {
		t.Fatalf("unexpected signals %v", *sent)
	}
}

func TestSignalWithoutPriceIsRecoverable(t *testing.T) {
	m := &fakeMarket{prices: map[string]float64{}}
	c, sent := newTestContext(m)
	err := c.Buy("AAA", 0)
	if !errs.IsBarValidation(err) {
		t.Fatalf("expected bar validation error, got %v", err)
	}
	if len(*sent) != 0 || !c.IsNeutral("AAA") {
		t.Fatal("failed signal must not change state")
	}
}

func TestLongShortSymbols(t *testing.T) {
	m := &fakeMarket{prices: map[string]float64{"AAA": 10, "BBB": 20}}
	c, _ := newTestContext(m)
	_ = c.Buy("BBB", 0)
	_ = c.Short("AAA", 0)
	if got := c.LongSymbols(); len(got) != 1 || got[0] != "BBB" {
		t.Fatalf("long symbols = %v", got)
	}
	if got := c.ShortSymbols(); len(got) != 1 || got[0] != "AAA" {
		t.Fatalf("short symbols = %v", got)
	}
	if c.Param("x", 1) != 3 || c.Param("y", 1) != 1 {
		t.Fatal("param lookup")
	}
}

func TestRegistry(t *testing.T) {
	r := Builtins()
	if got := r.List(); len(got) != 3 || got[0] != "bollinger_reversion" {
		t.Fatalf("kinds = %v", got)
	}
	s, err := r.New("ma_crossover", "", map[string]float64{"fast": 2, "slow": 4})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Name() != "ma_crossover" {
		t.Fatalf("name = %q", s.Name())
	}
	if _, err := r.New("ma_crossover", "bad", map[string]float64{"fast": 4, "slow": 2}); err == nil {
		t.Fatal("expected parameter error")
	}
	if _, err := r.New("nope", "x", nil); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func closes(vals ...float64) models.Bars {
	out := make(models.Bars, len(vals))
	for i, v := range vals {
		out[i] = models.Bar{Open: v, High: v, Low: v, Close: v}
	}
	return out
}

func TestMACrossover(t *testing.T) {
	m := &fakeMarket{
		prices: map[string]float64{"AAA": 14},
		bars:   map[string]models.Bars{"AAA": closes(10, 10, 12, 14)},
	}
	c, sent := newTestContext(m)
	s, _ := NewMACrossover("ma", map[string]float64{"fast": 2, "slow": 4})

	if err := s.Close(c, "AAA"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(*sent) != 1 || (*sent)[0].Direction != models.Buy {
		t.Fatalf("expected BUY, got %v", *sent)
	}

	m.bars["AAA"] = closes(14, 14, 12, 10)
	m.prices["AAA"] = 10
	if err := s.Close(c, "AAA"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(*sent) != 2 || (*sent)[1].Direction != models.Sell {
		t.Fatalf("expected SELL, got %v", *sent)
	}

	m.bars["AAA"] = closes(10)
	if err := s.Close(c, "AAA"); !errs.IsBarValidation(err) {
		t.Fatalf("short history should be a bar validation error, got %v", err)
	}
}

func TestBollingerReversion(t *testing.T) {
	m := &fakeMarket{
		prices: map[string]float64{"AAA": 5},
		bars:   map[string]models.Bars{"AAA": closes(9, 11, 9, 11, 10)},
	}
	c, sent := newTestContext(m)
	s, _ := NewBollingerReversion("bb", map[string]float64{"window": 4, "k": 1})

	if err := s.During(c, "AAA"); err != nil {
		t.Fatalf("during: %v", err)
	}
	if len(*sent) != 1 || (*sent)[0].Direction != models.Buy || (*sent)[0].Price != 5 {
		t.Fatalf("expected BUY at 5, got %v", *sent)
	}
	m.prices["AAA"] = 10
	if err := s.During(c, "AAA"); err != nil {
		t.Fatalf("during: %v", err)
	}
	if len(*sent) != 2 || (*sent)[1].Direction != models.Sell {
		t.Fatalf("expected SELL at the mean, got %v", *sent)
	}
}

func TestBaseIsNoop(t *testing.T) {
	var s Strategy = &BuyAndHold{Base: Base{ID: "b"}}
	if err := s.BeforeOpen(nil); err != nil {
		t.Fatal(err)
	}
	if err := s.AfterClose(nil); err != nil {
		t.Fatal(err)
	}
}
