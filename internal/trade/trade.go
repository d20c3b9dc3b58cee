// Package trade tracks the open-to-close lifecycle of one position.
package trade

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
)

type State int

const (
	OpenSubmitted State = iota
	Open
	CloseSubmitted
	Closed
)

func (s State) String() string {
	switch s {
	case OpenSubmitted:
		return "OPEN_SUBMITTED"
	case Open:
		return "OPEN"
	case CloseSubmitted:
		return "CLOSE_SUBMITTED"
	default:
		return "CLOSED"
	}
}

const qtyEpsilon = 1e-9

// Trade is one position from its opening order to its closing fill.
// Quantity carries the sign of the opening order.
type Trade struct {
	ID        string
	Symbol    string
	Direction models.Direction
	Quantity  float64
	OpenedAt  time.Time
	ClosedAt  time.Time

	OpenOrder  *models.Order
	CloseOrder *models.Order

	OpenFilled    float64
	OpenCost      float64
	AvgOpenPrice  float64
	CloseFilled   float64
	CloseCost     float64
	AvgClosePrice float64
	Commission    float64
	PnL           float64

	state      State
	fakeClosed bool
}

// New starts a trade from its opening order.
func New(order *models.Order) *Trade {
	return &Trade{
		ID:        uuid.New().String(),
		Symbol:    order.Symbol,
		Direction: order.Direction,
		Quantity:  order.Quantity,
		OpenedAt:  order.CreatedAt,
		OpenOrder: order,
		state:     OpenSubmitted,
	}
}

func (t *Trade) State() State { return t.state }

// FakeClosed reports whether FakeClose has been applied.
func (t *Trade) FakeClosed() bool { return t.fakeClosed }

// Held is the signed quantity currently owned through this trade.
func (t *Trade) Held() float64 {
	return t.OpenFilled + t.CloseFilled
}

// Relevant reports whether f matches this trade's outstanding quantity on the
// side currently awaiting fills.
func (t *Trade) Relevant(f models.Fill) bool {
	if f.Symbol != t.Symbol || f.Quantity == 0 {
		return false
	}
	switch t.state {
	case OpenSubmitted:
		return f.Direction == t.Direction && fits(f.Quantity, t.Quantity-t.OpenFilled)
	case CloseSubmitted:
		return f.Direction == t.Direction.Closes() && fits(f.Quantity, -t.Quantity-t.CloseFilled)
	default:
		return false
	}
}

// fits checks that q has the sign of outstanding and does not exceed it.
func fits(q, outstanding float64) bool {
	if q*outstanding <= 0 {
		return false
	}
	return math.Abs(q) <= math.Abs(outstanding)+qtyEpsilon
}

func (t *Trade) reject(f models.Fill, reason string) error {
	return &errs.DuplicateFillError{OrderID: f.OrderID, Symbol: f.Symbol, Quantity: f.Quantity, Reason: reason}
}

// ApplyOpenFill books an opening fill. The trade is OPEN once the whole
// opening quantity has been filled.
func (t *Trade) ApplyOpenFill(f models.Fill) error {
	if !t.Relevant(f) || t.state != OpenSubmitted {
		return t.reject(f, fmt.Sprintf("not an outstanding opening fill for trade in state %s", t.state))
	}
	t.OpenFilled += f.Quantity
	t.OpenCost += f.Cost()
	t.Commission += f.Commission
	t.AvgOpenPrice = t.OpenCost / t.OpenFilled
	if math.Abs(t.OpenFilled-t.Quantity) <= qtyEpsilon {
		t.OpenFilled = t.Quantity
		t.state = Open
	}
	return nil
}

// Exiting records the closing order of a fully open trade.
func (t *Trade) Exiting(order *models.Order) error {
	if t.state != Open {
		return errs.Invariantf("exiting %s trade in state %s", t.Symbol, t.state)
	}
	if order.Direction != t.Direction.Closes() {
		return errs.Invariantf("%s order cannot close a %s trade", order.Direction, t.Direction)
	}
	t.CloseOrder = order
	t.state = CloseSubmitted
	return nil
}

// ApplyCloseFill books a closing fill and realizes P&L once the position is flat.
func (t *Trade) ApplyCloseFill(f models.Fill) error {
	if t.state != CloseSubmitted || !t.Relevant(f) {
		return t.reject(f, fmt.Sprintf("not an outstanding closing fill for trade in state %s", t.state))
	}
	t.CloseFilled += f.Quantity
	t.CloseCost += f.Cost()
	t.Commission += f.Commission
	t.AvgClosePrice = t.CloseCost / t.CloseFilled
	if math.Abs(t.CloseFilled+t.Quantity) <= qtyEpsilon {
		t.CloseFilled = -t.Quantity
		t.ClosedAt = f.CreatedAt
		t.PnL = -(t.OpenCost + t.CloseCost + t.Commission)
		t.state = Closed
	}
	return nil
}

// FakeClose values the remaining position at price for reporting. It leaves
// the real fill state untouched, so calling it again yields the same record.
// A really closed trade cannot be fake closed.
func (t *Trade) FakeClose(at time.Time, price float64) (models.TradeRecord, error) {
	if t.state == Closed {
		return models.TradeRecord{}, fmt.Errorf("fake close %s: %w", t.Symbol, errs.ErrTradeClosed)
	}
	closeCost := t.CloseCost + -t.Held()*price
	rec := t.record()
	rec.ClosedAt = at
	rec.PnL = -(t.OpenCost + closeCost + t.Commission)
	if t.OpenFilled != 0 {
		rec.ClosePrice = closeCost / -t.OpenFilled
	}
	rec.FakeClosed = true
	t.fakeClosed = true
	return rec, nil
}

// Record is the reporting view of a closed trade.
func (t *Trade) Record() models.TradeRecord {
	rec := t.record()
	rec.ClosedAt = t.ClosedAt
	rec.ClosePrice = t.AvgClosePrice
	rec.PnL = t.PnL
	return rec
}

func (t *Trade) record() models.TradeRecord {
	return models.TradeRecord{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Direction:  t.Direction,
		Quantity:   t.OpenFilled,
		OpenPrice:  t.AvgOpenPrice,
		OpenedAt:   t.OpenedAt,
		Commission: t.Commission,
	}
}
