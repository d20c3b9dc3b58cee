package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	pkgch "Backtest/pkg/clickhouse"
)

// ResultSchema returns the DDL of the result tables inside database.
func ResultSchema(database string) []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + database,
		`CREATE TABLE IF NOT EXISTS ` + database + `.runs (
			run_id String,
			status LowCardinality(String),
			symbols Array(String),
			date_from DateTime,
			date_to DateTime,
			started_at DateTime64(3),
			finished_at DateTime64(3),
			error String,
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY run_id`,
		`CREATE TABLE IF NOT EXISTS ` + database + `.report_rows (
			run_id String,
			strategy String,
			total_return Float64,
			annualized_return Float64,
			sharpe Float64,
			trades Int64,
			pct_profitable Float64,
			dangerous UInt8,
			max_drawdown Float64,
			failed UInt8,
			error String
		) ENGINE = ReplacingMergeTree ORDER BY (run_id, strategy)`,
		`CREATE TABLE IF NOT EXISTS ` + database + `.trades (
			run_id String,
			id String,
			strategy String,
			symbol LowCardinality(String),
			direction LowCardinality(String),
			quantity Float64,
			open_price Float64,
			close_price Float64,
			opened_at DateTime,
			closed_at DateTime,
			commission Float64,
			pnl Float64,
			fake_closed UInt8
		) ENGINE = ReplacingMergeTree ORDER BY (run_id, strategy, closed_at, id)`,
		`CREATE TABLE IF NOT EXISTS ` + database + `.equity (
			run_id String,
			strategy String,
			t DateTime,
			total Float64,
			returns Float64,
			equity Float64,
			drawdown Float64
		) ENGINE = ReplacingMergeTree ORDER BY (run_id, strategy, t)`,
	}
}

// CHResultStore implements ResultStore for ClickHouse.
type CHResultStore struct {
	client   *pkgch.Client
	db       *sql.DB
	database string
}

// NewCHResultStore creates a ClickHouse result store writing into database.
func NewCHResultStore(client *pkgch.Client, database string) repository.ResultStore {
	return &CHResultStore{client: client, db: client.DB(), database: database}
}

func (s *CHResultStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, ResultSchema(s.database))
}

func (s *CHResultStore) table(name string) string { return s.database + "." + name }

func (s *CHResultStore) SaveRun(ctx context.Context, run *models.RunResult) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (run_id, status, symbols, date_from, date_to, started_at, finished_at, error, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table("runs")),
		run.RunID, string(run.Status), run.Symbols, run.DateFrom, run.DateTo,
		run.StartedAt, run.FinishedAt, run.Error, uint64(time.Now().UnixNano()),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if run.Status != models.RunFinished {
		return nil
	}

	rows := make([][]any, 0, len(run.Rows))
	for _, r := range run.Rows {
		rows = append(rows, []any{run.RunID, r.Strategy, r.TotalReturn, r.AnnualizedReturn, r.Sharpe,
			int64(r.Trades), r.PctProfitable, boolToUInt8(r.Dangerous), r.MaxDrawdown, boolToUInt8(r.Failed), r.Error})
	}
	if err := s.insertValues(ctx, "report_rows", 11, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, t := range run.Trades() {
		rows = append(rows, []any{run.RunID, t.ID, t.Strategy, t.Symbol, string(t.Direction), t.Quantity,
			t.OpenPrice, t.ClosePrice, t.OpenedAt, t.ClosedAt, t.Commission, t.PnL, boolToUInt8(t.FakeClosed)})
	}
	if err := s.insertValues(ctx, "trades", 13, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, p := range run.Performances {
		for _, pt := range p.EquityCurve {
			rows = append(rows, []any{run.RunID, p.Strategy, pt.Time, pt.Total, pt.Return, pt.Equity, pt.Drawdown})
		}
	}
	return s.insertValues(ctx, "equity", 7, rows)
}

// insertValues writes rows as multi-row VALUES statements in chunks.
func (s *CHResultStore) insertValues(ctx context.Context, table string, width int, rows [][]any) error {
	const chunkSize = 2000
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*width)
		for _, r := range rows[start:end] {
			values = append(values, placeholder)
			args = append(args, r...)
		}
		q := fmt.Sprintf("INSERT INTO %s VALUES %s", s.table(table), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *CHResultStore) GetRun(ctx context.Context, runID string) (*models.RunResult, error) {
	run := &models.RunResult{RunID: runID}
	var status string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT status, symbols, date_from, date_to, started_at, finished_at, error FROM %s FINAL WHERE run_id = ?", s.table("runs")),
		runID,
	).Scan(&status, &run.Symbols, &run.DateFrom, &run.DateTo, &run.StartedAt, &run.FinishedAt, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.Status = models.RunStatus(status)

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT strategy, total_return, annualized_return, sharpe, trades, pct_profitable,
			dangerous, max_drawdown, failed, error FROM %s FINAL WHERE run_id = ? ORDER BY strategy`, s.table("report_rows")),
		runID)
	if err != nil {
		return nil, fmt.Errorf("get report rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.ReportRow
		var trades int64
		var dangerous, failed uint8
		if err := rows.Scan(&r.Strategy, &r.TotalReturn, &r.AnnualizedReturn, &r.Sharpe, &trades,
			&r.PctProfitable, &dangerous, &r.MaxDrawdown, &failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		r.Trades, r.Dangerous, r.Failed = int(trades), dangerous != 0, failed != 0
		run.Rows = append(run.Rows, r)
	}
	return run, rows.Err()
}

func (s *CHResultStore) ListTrades(ctx context.Context, runID, strategy string, limit int) ([]models.TradeRecord, error) {
	q := fmt.Sprintf(`SELECT id, strategy, symbol, direction, quantity, open_price, close_price,
		opened_at, closed_at, commission, pnl, fake_closed FROM %s FINAL WHERE run_id = ?`, s.table("trades"))
	args := []any{runID}
	if strategy != "" {
		q += " AND strategy = ?"
		args = append(args, strategy)
	}
	q += " ORDER BY strategy, closed_at, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var dir string
		var fake uint8
		if err := rows.Scan(&t.ID, &t.Strategy, &t.Symbol, &dir, &t.Quantity, &t.OpenPrice, &t.ClosePrice,
			&t.OpenedAt, &t.ClosedAt, &t.Commission, &t.PnL, &fake); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Direction, t.FakeClosed = models.Direction(dir), fake != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *CHResultStore) Close() error {
	return nil // Managed by pkg
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
