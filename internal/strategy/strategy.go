// Package strategy defines the hooks a trading strategy implements and the
// Context through which it reads prices and emits signals.
package strategy

import "Backtest/internal/domain/models"

// Strategy receives every market sub-event of the replay. Scoped hooks only
// fire for symbols the strategy is subscribed to. A hook returning a bar
// validation error means "no signal this bar"; any other error ends the run
// of the owning portfolio.
type Strategy interface {
	Name() string
	BeforeOpen(c *Context) error
	Open(c *Context, symbol string) error
	During(c *Context, symbol string) error
	Close(c *Context, symbol string) error
	AfterClose(c *Context) error
}

// Finisher is implemented by strategies that want their results once the
// replay has been aggregated.
type Finisher interface {
	Done(perf *models.Performance)
}

// Base provides no-op hooks. Embed it and override what you need.
type Base struct {
	ID string
}

func (b Base) Name() string { return b.ID }

func (Base) BeforeOpen(*Context) error { return nil }

func (Base) Open(*Context, string) error { return nil }

func (Base) During(*Context, string) error { return nil }

func (Base) Close(*Context, string) error { return nil }

func (Base) AfterClose(*Context) error { return nil }
