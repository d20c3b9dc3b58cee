package strategy

import (
	"time"

	"Backtest/internal/domain/models"
)

// SymbolStatus is the strategy's own view of a symbol. Side is BUY, SHORT or
// empty when neutral.
type SymbolStatus struct {
	Side       models.Direction
	EntryPrice float64
	ExitPrice  float64
	UpdatedAt  time.Time
}

func (s *SymbolStatus) update(dir models.Direction, price float64, at time.Time) {
	if dir.Opening() {
		s.Side = dir
		s.EntryPrice = price
	} else {
		s.Side = ""
		s.ExitPrice = price
	}
	s.UpdatedAt = at
}
