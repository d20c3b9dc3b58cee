package event

import (
	"testing"

	"Backtest/internal/domain/models"
)

func TestQueuePriority(t *testing.T) {
	q := NewQueue()
	q.Push(Market(models.MarketEvent{SubType: models.Open, Symbol: "AAA"}))
	q.Push(Signal(models.Signal{Symbol: "AAA", Direction: models.Buy}))
	q.Push(DayEnd(models.MarketEvent{SubType: models.AfterClose}))
	q.Push(Fill(models.Fill{Symbol: "AAA"}))
	q.Push(Signal(models.Signal{Symbol: "BBB", Direction: models.Buy}))
	q.Push(Order(&models.Order{Symbol: "CCC"}))

	want := []struct {
		kind   Kind
		symbol string
	}{
		{KindFill, "AAA"},
		{KindOrder, "CCC"},
		{KindSignal, "AAA"},
		{KindSignal, "BBB"},
		{KindMarket, "AAA"},
		{KindDayEnd, ""},
	}
	for i, w := range want {
		ev, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if ev.Kind != w.kind {
			t.Fatalf("pop %d: kind %s, want %s", i, ev.Kind, w.kind)
		}
		var sym string
		switch ev.Kind {
		case KindFill:
			sym = ev.Fill.Symbol
		case KindOrder:
			sym = ev.Order.Symbol
		case KindSignal:
			sym = ev.Signal.Symbol
		default:
			sym = ev.Market.Symbol
		}
		if sym != w.symbol {
			t.Fatalf("pop %d: symbol %q, want %q", i, sym, w.symbol)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestQueueFIFOWithinKind(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 50; i++ {
		q.Push(Signal(models.Signal{Price: float64(i)}))
	}
	for i := 0; i < 50; i++ {
		ev, _ := q.Pop()
		if ev.Signal.Price != float64(i) {
			t.Fatalf("pop %d got %v", i, ev.Signal.Price)
		}
	}
}
