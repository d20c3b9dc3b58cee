package portfolio

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/event"
	"Backtest/internal/risk"
	"Backtest/internal/trade"
	"Backtest/pkg/logger"
)

const qtyEpsilon = 1e-9

// GenerateOrders sizes a signal into an order and routes it to execution.
// Signals that cannot produce an order are dropped.
func (p *Portfolio) GenerateOrders(ctx context.Context, sig models.Signal) error {
	log := p.log.With(logger.String("symbol", sig.Symbol), logger.String("direction", string(sig.Direction)))
	log.Debug("signal", logger.Float64("price", sig.Price))

	price := sig.Price
	if price == 0 {
		var err error
		if price, err = p.market.Price(sig.Symbol); err != nil {
			if errs.IsBarValidation(err) {
				return nil
			}
			return err
		}
	}
	if err := p.checkSignal(sig, price); err != nil {
		if errs.IsBarValidation(err) {
			log.Debug("signal dropped", logger.Error(err))
			return nil
		}
		if p.settings.Mode == models.ModeLive && errs.IsSignalValidation(err) {
			log.Warn("signal dropped", logger.Error(err))
			p.metrics.RecordError("signal_validation")
			return nil
		}
		return err
	}

	adj := p.risk.AdjustForSlippage(sig.Direction, price)
	cur := p.positions[sig.Symbol]

	var order *models.Order
	switch {
	case sig.Direction.Opening():
		o, err := p.openingOrder(sig, adj, cur)
		if err != nil {
			return err
		}
		order = o
	case sig.Direction.Closing():
		o, err := p.closingOrder(sig, adj, cur)
		if err != nil {
			return err
		}
		order = o
	default:
		return errs.Invariantf("unknown direction %q", sig.Direction)
	}
	if order == nil {
		return nil
	}

	p.pending[order.ID] = order
	p.metrics.RecordOrder(p.name, order.Direction)
	log.Debug("order", logger.Float64("quantity", order.Quantity), logger.Float64("limit", order.LimitPrice),
		logger.Float64("estimated_cost", order.EstimatedCost))

	if p.settings.Mode == models.ModeLive {
		p.queue.Push(event.Order(order))
		return nil
	}
	return p.exec.Execute(ctx, order)
}

func (p *Portfolio) checkSignal(sig models.Signal, price float64) error {
	today, err := p.market.Today(sig.Symbol)
	if err != nil {
		return err
	}
	if price <= 0 {
		return &errs.NegativeExecutionPriceError{Strategy: p.name, Time: p.now(), Symbol: sig.Symbol, Price: price}
	}
	if price > today.High || price < today.Low {
		return &errs.ExecutionPriceOutOfBandError{
			Strategy: p.name, Time: p.now(), Symbol: sig.Symbol,
			Price: price, High: today.High, Low: today.Low,
		}
	}
	return nil
}

func (p *Portfolio) openingOrder(sig models.Signal, adj, cur float64) (*models.Order, error) {
	if cur != 0 || p.hasPending(sig.Symbol) {
		return nil, nil
	}
	if _, open := p.openTrades[sig.Symbol]; open {
		return nil, nil
	}
	switch {
	case sig.Direction == models.Buy && p.LongCount() >= p.settings.MaxLongPositions,
		sig.Direction == models.Short && p.ShortCount() >= p.settings.MaxShortPositions:
		p.log.Debug("signal dropped, position limit reached", logger.String("symbol", sig.Symbol))
		return nil, nil
	}

	acct, err := p.account()
	if err != nil {
		return nil, err
	}
	sz, err := p.risk.SizeOrder(sig.Direction, adj, cur, acct)
	if errors.Is(err, risk.ErrInsufficientCash) {
		p.log.Warn("can't adjust position", logger.String("symbol", sig.Symbol),
			logger.Float64("missing_cash", p.risk.PositionCash(acct)-acct.Cash))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sz.Quantity == 0 {
		return nil, nil
	}
	return p.newOrder(sig, sz.Quantity, adj, sz.Commission+sz.Quantity*adj, sz.Commission), nil
}

func (p *Portfolio) closingOrder(sig models.Signal, adj, cur float64) (*models.Order, error) {
	if (sig.Direction == models.Sell && cur <= 0) || (sig.Direction == models.Cover && cur >= 0) {
		return nil, nil
	}
	t, ok := p.openTrades[sig.Symbol]
	if !ok {
		return nil, errs.Invariantf("position of %g %s without an open trade", cur, sig.Symbol)
	}
	if t.State() != trade.Open {
		p.log.Debug("signal dropped, trade not open", logger.String("symbol", sig.Symbol), logger.String("state", t.State().String()))
		return nil, nil
	}
	sz, err := p.risk.SizeOrder(sig.Direction, adj, cur, risk.Account{})
	if err != nil {
		return nil, err
	}
	for _, o := range p.pending {
		if o.Symbol == sig.Symbol && o.Quantity == sz.Quantity {
			return nil, nil
		}
	}
	cost := sz.Quantity * adj
	if sig.Direction == models.Cover {
		cost += sz.Commission
	}
	order := p.newOrder(sig, sz.Quantity, adj, cost, sz.Commission)
	if err := t.Exiting(order); err != nil {
		return nil, err
	}
	return order, nil
}

func (p *Portfolio) newOrder(sig models.Signal, qty, limit, cost, commission float64) *models.Order {
	return &models.Order{
		ID:            uuid.New().String(),
		Signal:        sig,
		Symbol:        sig.Symbol,
		Quantity:      qty,
		Direction:     sig.Direction,
		LimitPrice:    limit,
		EstimatedCost: cost,
		Commission:    commission,
		CreatedAt:     p.now(),
	}
}

func (p *Portfolio) hasPending(symbol string) bool {
	for _, o := range p.pending {
		if o.Symbol == symbol {
			return true
		}
	}
	return false
}

// UpdateFromFill books a fill against its order and trade, then moves cash by
// -(notional + commission). Fills that match no outstanding quantity are
// rejected without touching any state.
func (p *Portfolio) UpdateFromFill(f models.Fill) error {
	if p.holding == nil {
		return errs.Invariantf("fill for %s before the first bar", f.Symbol)
	}
	order, ok := p.pending[f.OrderID]
	if !ok {
		return &errs.DuplicateFillError{OrderID: f.OrderID, Symbol: f.Symbol, Quantity: f.Quantity, Reason: "no pending order"}
	}
	if f.Symbol != order.Symbol || f.Direction != order.Direction {
		return &errs.DuplicateFillError{OrderID: f.OrderID, Symbol: f.Symbol, Quantity: f.Quantity, Reason: "fill does not match its order"}
	}
	p.log.Debug("fill", logger.String("symbol", f.Symbol), logger.Float64("quantity", f.Quantity),
		logger.Float64("price", f.Price), logger.Float64("commission", f.Commission))

	if order.Direction.Opening() {
		t, ok := p.openTrades[f.Symbol]
		if !ok {
			t = trade.New(order)
		} else if t.OpenOrder != order {
			return &errs.DuplicateFillError{OrderID: f.OrderID, Symbol: f.Symbol, Quantity: f.Quantity, Reason: "symbol already has an open trade"}
		}
		if err := t.ApplyOpenFill(f); err != nil {
			return err
		}
		p.openTrades[f.Symbol] = t
	} else {
		t, ok := p.openTrades[f.Symbol]
		if !ok {
			return &errs.DuplicateFillError{OrderID: f.OrderID, Symbol: f.Symbol, Quantity: f.Quantity, Reason: "no open trade to close"}
		}
		if err := t.ApplyCloseFill(f); err != nil {
			return err
		}
		if t.State() == trade.Closed {
			rec := t.Record()
			rec.Strategy = p.name
			p.closed = append(p.closed, rec)
			delete(p.openTrades, f.Symbol)
		}
	}

	order.Filled += f.Quantity
	if math.Abs(order.Remaining()) <= qtyEpsilon {
		delete(p.pending, order.ID)
	}
	p.positions[f.Symbol] += f.Quantity
	p.holding.Commission += f.Commission
	p.holding.Cash -= f.Cost() + f.Commission
	p.metrics.RecordFill(p.name, f.Symbol)
	return nil
}
