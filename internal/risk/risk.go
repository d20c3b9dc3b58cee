// Package risk sizes orders and prices commission and slippage. It holds no
// portfolio state; every input is passed in.
package risk

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"Backtest/internal/domain/models"
)

// ErrInsufficientCash is returned when a BUY does not fit in the available
// cash and adjusting the position down is disabled.
var ErrInsufficientCash = errors.New("not enough cash for position and adjust down is disabled")

// Account is the portfolio state sizing depends on.
type Account struct {
	Cash           float64
	NetLiquidation float64
}

// Sizing is a signed order quantity and its estimated commission.
type Sizing struct {
	Quantity   float64
	Commission float64
}

type Engine struct {
	s models.PortfolioSettings
}

func New(s models.PortfolioSettings) *Engine {
	return &Engine{s: s.Resolve()}
}

func (e *Engine) Settings() models.PortfolioSettings {
	return e.s
}

// Round rounds a price to the configured precision, using the finer
// precision for prices below one.
func (e *Engine) Round(price float64) float64 {
	places := e.s.RoundDecimals
	if math.Abs(price) < 1 {
		places = e.s.RoundDecimalsBelowOne
	}
	return decimal.NewFromFloat(price).Round(places).InexactFloat64()
}

// AdjustForSlippage moves price against the trader by the slippage bound.
func (e *Engine) AdjustForSlippage(direction models.Direction, price float64) float64 {
	return e.Round(price * (1 + e.s.MaxSlippage*direction.PriceSign()))
}

// Commission is max(fixed + pct*|qty|*price, minimum).
func (e *Engine) Commission(quantity, price float64) float64 {
	return math.Max(e.s.CommissionFixed+e.s.CommissionPct*math.Abs(quantity)*price, e.s.CommissionMin)
}

// PositionCash is the notional an opening order may use.
func (e *Engine) PositionCash(acct Account) float64 {
	base := acct.NetLiquidation
	if e.s.CapitalTradableCap > 0 {
		base = math.Min(e.s.CapitalTradableCap, base)
	}
	return base * e.s.PositionSize
}

// SizeOrder returns the signed quantity and commission for an order at
// adjPrice. Opening orders are floored to the lot size and shrunk one lot at
// a time until notional plus commission fits the position cash. Closing
// orders always close the whole position.
func (e *Engine) SizeOrder(direction models.Direction, adjPrice, current float64, acct Account) (Sizing, error) {
	if direction.Closing() {
		if current == 0 {
			return Sizing{}, nil
		}
		q := -current
		return Sizing{Quantity: q, Commission: e.Commission(q, adjPrice)}, nil
	}
	if !direction.Opening() || adjPrice <= 0 {
		return Sizing{}, nil
	}

	cash := e.PositionCash(acct)
	if direction == models.Buy && cash > acct.Cash {
		if !e.s.AdjustPositionDown {
			return Sizing{}, ErrInsufficientCash
		}
		cash = acct.Cash
	}
	if cash <= 0 {
		return Sizing{}, nil
	}

	lot := e.s.RoundLotSize
	q := cash / adjPrice
	step := 1.0
	if lot > 0 {
		q = math.Floor(q/lot) * lot
		step = lot
	}
	comm := e.Commission(q, adjPrice)
	for q > 0 && comm+q*adjPrice > cash {
		q = math.Max(q-step, 0)
		comm = e.Commission(q, adjPrice)
	}
	if q <= 0 {
		return Sizing{}, nil
	}
	if direction == models.Short {
		q = -q
	}
	return Sizing{Quantity: q, Commission: comm}, nil
}

// TradeProfitability estimates the round-trip P&L of entering at entry and
// leaving at exit with the same sizing and commission model.
func (e *Engine) TradeProfitability(direction models.Direction, entry, exit float64, acct Account) float64 {
	sz, err := e.SizeOrder(direction, entry, 0, acct)
	if err != nil || sz.Quantity == 0 {
		return 0
	}
	exitComm := e.Commission(sz.Quantity, exit)
	return (exit-entry)*sz.Quantity - sz.Commission - exitComm
}
