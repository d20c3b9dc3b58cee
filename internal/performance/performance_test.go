package performance

import (
	"errors"
	"math"
	"testing"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func holdings(totals ...float64) []models.Holding {
	out := make([]models.Holding, len(totals))
	for i, v := range totals {
		out[i] = models.Holding{Time: t0.AddDate(0, 0, i), Total: v, Cash: v, SubscribedSymbols: 2}
	}
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFlatEquity(t *testing.T) {
	perf, err := Calc("flat", holdings(100000, 100000, 100000, 100000), nil, 0.2)
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	for i, p := range perf.EquityCurve {
		if p.Equity != 1 {
			t.Fatalf("equity[%d] = %v", i, p.Equity)
		}
	}
	if perf.TotalReturn != 0 || perf.Sharpe != 0 || perf.MaxDrawdown != 0 || perf.AnnualizedReturn != 0 {
		t.Fatalf("flat run has stats %+v", perf)
	}
	if perf.AvgSubscribedSymbols != 2 {
		t.Fatalf("avg subscribed = %v", perf.AvgSubscribedSymbols)
	}
}

func TestReturnsAndDrawdown(t *testing.T) {
	perf, err := Calc("s", holdings(100, 110, 99, 121), nil, 0.2)
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	if !near(perf.TotalReturn, 21) {
		t.Errorf("total return = %v", perf.TotalReturn)
	}
	years := 3 / daysPerYear
	if !near(perf.Years, years) {
		t.Errorf("years = %v", perf.Years)
	}
	wantAnn := (math.Pow(1.21, 1/years) - 1) * 100
	if math.Abs(perf.AnnualizedReturn-wantAnn)/wantAnn > 1e-9 {
		t.Errorf("annualized = %v, want %v", perf.AnnualizedReturn, wantAnn)
	}
	if !near(perf.MaxDrawdown, 10) || perf.DrawdownDuration != 1 {
		t.Errorf("drawdown = %v for %d bars", perf.MaxDrawdown, perf.DrawdownDuration)
	}
	if !near(perf.EquityCurve[2].Drawdown, 10) || perf.EquityCurve[3].Drawdown != 0 {
		t.Errorf("curve drawdown = %+v", perf.EquityCurve)
	}
	if perf.Sharpe <= 0 {
		t.Errorf("sharpe = %v", perf.Sharpe)
	}
}

func TestDrawdownDuration(t *testing.T) {
	perf, _ := Calc("s", holdings(100, 90, 80, 85, 110, 95, 120), nil, 0.2)
	if !near(perf.MaxDrawdown, 20) {
		t.Errorf("max drawdown = %v", perf.MaxDrawdown)
	}
	if perf.DrawdownDuration != 3 {
		t.Errorf("duration = %d, want 3", perf.DrawdownDuration)
	}
}

func TestSharpe(t *testing.T) {
	got := Sharpe([]float64{0.01, 0.03}, 252)
	want := math.Sqrt(252) * 0.02 / math.Sqrt(0.0002)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("sharpe = %v, want %v", got, want)
	}
	if Sharpe([]float64{0.01, -0.01}, 252) != 0 {
		t.Error("zero mean should give zero sharpe")
	}
	if Sharpe([]float64{0.01}, 252) != 0 {
		t.Error("single return should give zero sharpe")
	}
	if Sharpe([]float64{0.01, 0.01, 0.01}, 252) != 0 {
		t.Error("zero deviation should give zero sharpe")
	}
}

func TestTradeStats(t *testing.T) {
	trades := []models.TradeRecord{{PnL: 100}, {PnL: 10}, {PnL: -10}}
	perf, _ := Calc("s", holdings(100, 100), trades, 0.2)
	if perf.Trades != 3 {
		t.Fatalf("trades = %d", perf.Trades)
	}
	if !near(perf.PctProfitable, 200.0/3) || !near(perf.PctLoss, 100.0/3) {
		t.Errorf("profit %v loss %v", perf.PctProfitable, perf.PctLoss)
	}
	if !perf.Dangerous || len(perf.DangerousTrades) != 1 || perf.DangerousTrades[0].PnL != 100 {
		t.Errorf("dangerous = %v %+v", perf.Dangerous, perf.DangerousTrades)
	}

	perf, _ = Calc("s", holdings(100, 100), []models.TradeRecord{{PnL: 10}, {PnL: 10}, {PnL: 10}, {PnL: 10}, {PnL: 10}, {PnL: 10}}, 0.2)
	if perf.Dangerous {
		t.Error("evenly spread trades are not dangerous")
	}
}

func TestEmptyHoldings(t *testing.T) {
	if _, err := Calc("s", nil, nil, 0.2); !errors.Is(err, errs.ErrEmptyHoldings) {
		t.Fatalf("expected ErrEmptyHoldings, got %v", err)
	}
}

func TestTableSort(t *testing.T) {
	tbl := Table{
		{Strategy: "b", Sharpe: 1.5, Trades: 3, MaxDrawdown: 5},
		{Strategy: "a", Sharpe: 0.5, Trades: 9, MaxDrawdown: 2},
		{Strategy: "x", Failed: true, Error: "boom"},
		{Strategy: "c", Sharpe: 1.5, Trades: 1, MaxDrawdown: 9, Dangerous: true},
	}
	if err := tbl.Sort(ColSharpe, true); err != nil {
		t.Fatal(err)
	}
	if got := names(tbl); got != "bcax" {
		t.Errorf("sharpe desc = %s", got)
	}
	_ = tbl.Sort(ColTrades, false)
	if got := names(tbl); got != "cbax" {
		t.Errorf("trades asc = %s", got)
	}
	_ = tbl.Sort(ColDangerous, true)
	if got := names(tbl); got != "cabx" {
		t.Errorf("dangerous desc = %s", got)
	}
	if err := tbl.Sort("nope", true); err == nil {
		t.Error("expected unknown column error")
	}
	if s := tbl.String(); len(s) == 0 {
		t.Error("empty rendering")
	}
}

func names(t Table) string {
	var s string
	for _, r := range t {
		s += r.Strategy
	}
	return s
}
