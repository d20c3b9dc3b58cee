// Package event defines the envelope drained by a portfolio and its
// priority queue.
package event

import "Backtest/internal/domain/models"

// Kind tags the payload of an Event.
type Kind int

const (
	KindMarket Kind = iota
	KindSignal
	KindOrder
	KindFill
	// KindDayEnd closes the trading day once every event raised by the
	// after_close hook has been processed.
	KindDayEnd
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindSignal:
		return "signal"
	case KindOrder:
		return "order"
	case KindFill:
		return "fill"
	case KindDayEnd:
		return "day_end"
	default:
		return "unknown"
	}
}

// Priority is lower for events that must be handled first.
func (k Kind) Priority() int {
	switch k {
	case KindFill, KindOrder:
		return 10
	case KindSignal:
		return 20
	default:
		return 30
	}
}

// Event carries exactly one payload matching its Kind.
type Event struct {
	Kind   Kind
	Market models.MarketEvent
	Signal *models.Signal
	Order  *models.Order
	Fill   *models.Fill
}

func Market(ev models.MarketEvent) Event {
	return Event{Kind: KindMarket, Market: ev}
}

func DayEnd(ev models.MarketEvent) Event {
	return Event{Kind: KindDayEnd, Market: ev}
}

func Signal(s models.Signal) Event {
	return Event{Kind: KindSignal, Signal: &s}
}

func Order(o *models.Order) Event {
	return Event{Kind: KindOrder, Order: o}
}

func Fill(f models.Fill) Event {
	return Event{Kind: KindFill, Fill: &f}
}
