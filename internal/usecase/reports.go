package usecase

import (
	"context"
	"fmt"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	drepo "Backtest/internal/domain/repository"
	"Backtest/internal/performance"
)

// Reports serves stored runs to the HTTP layer, cache first.
type Reports struct {
	store drepo.ResultStore
	cache drepo.ReportCache
	ttl   time.Duration
}

// NewReports creates the query side. Both store and cache may be nil; a run
// that neither knows about is reported as errs.ErrRunNotFound.
func NewReports(store drepo.ResultStore, cache drepo.ReportCache, ttl time.Duration) *Reports {
	return &Reports{store: store, cache: cache, ttl: ttl}
}

// Run returns the run with its report rows sorted by column.
func (r *Reports) Run(ctx context.Context, runID, column string, desc bool) (*models.RunResult, error) {
	run, err := r.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := *run
	rows := make(performance.Table, len(run.Rows))
	copy(rows, run.Rows)
	if err := rows.Sort(column, desc); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRun, err)
	}
	out.Rows = rows
	return &out, nil
}

// Trades lists the closed trades of a finished run.
func (r *Reports) Trades(ctx context.Context, runID, strategy string, limit int) ([]models.TradeRecord, error) {
	if _, err := r.load(ctx, runID); err != nil {
		return nil, err
	}
	if r.store != nil {
		return r.store.ListTrades(ctx, runID, strategy, limit)
	}
	trades, _ := r.cache.GetTrades(ctx, runID)
	return filterTrades(trades, strategy, limit), nil
}

func (r *Reports) load(ctx context.Context, runID string) (*models.RunResult, error) {
	if r.cache != nil {
		if run, ok := r.cache.GetRun(ctx, runID); ok {
			return run, nil
		}
	}
	if r.store == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrRunNotFound, runID)
	}
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	// only settled runs are worth keeping around
	if r.cache != nil && (run.Status == models.RunFinished || run.Status == models.RunFailed) {
		_ = r.cache.SetRun(ctx, run, r.ttl)
	}
	return run, nil
}

func filterTrades(all []models.TradeRecord, strategy string, limit int) []models.TradeRecord {
	out := make([]models.TradeRecord, 0, len(all))
	for _, t := range all {
		if strategy != "" && t.Strategy != strategy {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
