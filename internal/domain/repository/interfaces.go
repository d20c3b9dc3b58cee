package repository

import (
	"context"
	"time"

	"Backtest/internal/domain/models"
)

// BarSource yields the raw, unnormalized series of one symbol ordered by time.
type BarSource interface {
	LoadBars(ctx context.Context, symbol string) ([]models.RawBar, error)
}

// ResultStore persists finished runs and serves them back to the report API.
type ResultStore interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run *models.RunResult) error
	GetRun(ctx context.Context, runID string) (*models.RunResult, error)
	ListTrades(ctx context.Context, runID, strategy string, limit int) ([]models.TradeRecord, error)
	Close() error
}

// ResultPublisher streams a finished run to downstream consumers.
type ResultPublisher interface {
	PublishRun(ctx context.Context, run *models.RunResult) error
	Close() error
}

// ReportCache keeps recent runs close to the HTTP layer.
type ReportCache interface {
	GetRun(ctx context.Context, runID string) (*models.RunResult, bool)
	GetTrades(ctx context.Context, runID string) ([]models.TradeRecord, bool)
	SetRun(ctx context.Context, run *models.RunResult, ttl time.Duration) error
}

// Broker is the live execution collaborator. Fills and the terminal session
// error are delivered through the callbacks passed to Start.
type Broker interface {
	Start(ctx context.Context, onFill func(models.Fill), onErr func(error)) error
	ExecuteOrder(ctx context.Context, order *models.Order) error
	Close() error
}

type Metrics interface {
	RecordEvent(portfolio, kind string)
	RecordOrder(portfolio string, direction models.Direction)
	RecordFill(portfolio, symbol string)
	RecordError(kind string)
	RecordEquity(portfolio string, total float64)
	RecordLatency(op string, seconds float64)
}
