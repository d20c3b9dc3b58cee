package portfolio

import (
	"context"
	"fmt"
	"time"

	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	"Backtest/internal/risk"
)

// Execution turns an order into one or more fills delivered back to the
// portfolio.
type Execution interface {
	Execute(ctx context.Context, order *models.Order) error
}

// Simulator fills every order synchronously, in full, at its limit price.
type Simulator struct {
	risk  *risk.Engine
	clock func() time.Time
	fill  func(models.Fill)
}

func NewSimulator(r *risk.Engine, clock func() time.Time, fill func(models.Fill)) *Simulator {
	return &Simulator{risk: r, clock: clock, fill: fill}
}

func (s *Simulator) Execute(_ context.Context, order *models.Order) error {
	q := order.Remaining()
	if q == 0 {
		return fmt.Errorf("simulate order %s: nothing left to fill", order.ID)
	}
	s.fill(models.Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Direction:  order.Direction,
		Quantity:   q,
		Price:      order.LimitPrice,
		Commission: s.risk.Commission(q, order.LimitPrice),
		CreatedAt:  s.clock(),
	})
	return nil
}

// BrokerExecution forwards orders to a live broker. Fills come back
// asynchronously through Portfolio.OnFill.
type BrokerExecution struct {
	broker repository.Broker
}

func NewBrokerExecution(b repository.Broker) *BrokerExecution {
	return &BrokerExecution{broker: b}
}

func (b *BrokerExecution) Execute(ctx context.Context, order *models.Order) error {
	if err := b.broker.ExecuteOrder(ctx, order); err != nil {
		return fmt.Errorf("broker execute %s %s: %w", order.Direction, order.Symbol, err)
	}
	return nil
}
