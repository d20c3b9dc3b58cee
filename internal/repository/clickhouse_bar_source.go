package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	pkgch "Backtest/pkg/clickhouse"
	applogger "Backtest/pkg/logger"
)

// BarsTableDDL creates the daily bars table read by CHBarSource.
const BarsTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	symbol LowCardinality(String),
	t DateTime,
	open Float64,
	high Float64,
	low Float64,
	close Float64,
	volume Float64,
	adj_close Nullable(Float64)
) ENGINE = ReplacingMergeTree ORDER BY (symbol, t)`

// CHBarSource reads bars of one symbol from a ClickHouse table.
type CHBarSource struct {
	db    *sql.DB
	table string
	from  time.Time
	to    time.Time
	l     *applogger.Logger
}

// NewCHBarSource creates a bar source over table. A non-zero from/to narrows
// the query; the feed loader clips again either way.
func NewCHBarSource(ch *pkgch.Client, table string, from, to time.Time) *CHBarSource {
	return &CHBarSource{db: ch.DB(), table: table, from: from, to: to, l: applogger.Nop()}
}

var _ repository.BarSource = (*CHBarSource)(nil)

// SetLogger injects a structured logger.
func (s *CHBarSource) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHBarSource) LoadBars(ctx context.Context, symbol string) ([]models.RawBar, error) {
	start := time.Now()
	q := fmt.Sprintf(`SELECT t, open, high, low, close, volume, adj_close FROM %s FINAL WHERE symbol = ?`, s.table)
	args := []any{symbol}
	if !s.from.IsZero() {
		q += " AND t >= ?"
		args = append(args, s.from)
	}
	if !s.to.IsZero() {
		q += " AND t <= ?"
		args = append(args, s.to)
	}
	q += " ORDER BY t ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse load_bars query error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Error(err))
		return nil, fmt.Errorf("load bars %s: %w", symbol, err)
	}
	defer rows.Close()

	out := make([]models.RawBar, 0, 1024)
	for rows.Next() {
		var b models.RawBar
		var adj sql.NullFloat64
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &adj); err != nil {
			return nil, fmt.Errorf("scan bar %s: %w", symbol, err)
		}
		b.Time = b.Time.UTC()
		if adj.Valid {
			b.AdjClose, b.HasAdj = adj.Float64, true
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse bars loaded",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("elapsed", time.Since(start)))
	return out, nil
}
