package repository

import (
	"context"
	"time"

	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	"Backtest/pkg/cache"
)

// CachedReports implements ReportCache on top of a cache.Service.
type CachedReports struct {
	cache cache.Service
}

func NewCachedReports(c cache.Service) repository.ReportCache {
	return &CachedReports{cache: c}
}

func (r *CachedReports) GetRun(ctx context.Context, runID string) (*models.RunResult, bool) {
	var run models.RunResult
	if err := r.cache.Get(ctx, cache.GenerateKey("run", runID), &run); err != nil {
		return nil, false
	}
	return &run, true
}

func (r *CachedReports) GetTrades(ctx context.Context, runID string) ([]models.TradeRecord, bool) {
	var trades []models.TradeRecord
	if err := r.cache.Get(ctx, cache.GenerateKey("trades", runID), &trades); err != nil {
		return nil, false
	}
	return trades, true
}

// SetRun caches the run and, once it carries performances, its trade log.
func (r *CachedReports) SetRun(ctx context.Context, run *models.RunResult, ttl time.Duration) error {
	if err := r.cache.Set(ctx, cache.GenerateKey("run", run.RunID), run, ttl); err != nil {
		return err
	}
	if len(run.Performances) == 0 {
		return nil
	}
	return r.cache.Set(ctx, cache.GenerateKey("trades", run.RunID), run.Trades(), ttl)
}
