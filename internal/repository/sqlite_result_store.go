package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
)

const sqliteSchemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	symbols     TEXT NOT NULL,
	date_from   TEXT NOT NULL,
	date_to     TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS report_rows (
	run_id            TEXT NOT NULL,
	strategy          TEXT NOT NULL,
	total_return      REAL NOT NULL,
	annualized_return REAL NOT NULL,
	sharpe            REAL NOT NULL,
	trades            INTEGER NOT NULL,
	pct_profitable    REAL NOT NULL,
	dangerous         INTEGER NOT NULL,
	max_drawdown      REAL NOT NULL,
	failed            INTEGER NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, strategy)
);
CREATE TABLE IF NOT EXISTS trades (
	run_id      TEXT NOT NULL,
	id          TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	direction   TEXT NOT NULL,
	quantity    REAL NOT NULL,
	open_price  REAL NOT NULL,
	close_price REAL NOT NULL,
	opened_at   TEXT NOT NULL,
	closed_at   TEXT NOT NULL,
	commission  REAL NOT NULL,
	pnl         REAL NOT NULL,
	fake_closed INTEGER NOT NULL,
	PRIMARY KEY (run_id, id)
);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades (run_id, strategy, closed_at);
CREATE TABLE IF NOT EXISTS equity (
	run_id   TEXT NOT NULL,
	strategy TEXT NOT NULL,
	t        TEXT NOT NULL,
	total    REAL NOT NULL,
	returns  REAL NOT NULL,
	equity   REAL NOT NULL,
	drawdown REAL NOT NULL,
	PRIMARY KEY (run_id, strategy, t)
);
`

// SQLiteResultStore implements ResultStore on a local SQLite file.
type SQLiteResultStore struct {
	db *sql.DB
}

// OpenSQLiteResultStore opens (or creates) the database at path.
func OpenSQLiteResultStore(path string) (*SQLiteResultStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return &SQLiteResultStore{db: db}, nil
}

var _ repository.ResultStore = (*SQLiteResultStore)(nil)

func (s *SQLiteResultStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaDDL); err != nil {
		return fmt.Errorf("schema migration: %w", err)
	}
	return nil
}

func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteResultStore) SaveRun(ctx context.Context, run *models.RunResult) error {
	symbols, err := json.Marshal(run.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, symbols, date_from, date_to, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			symbols = excluded.symbols,
			date_from = excluded.date_from,
			date_to = excluded.date_to,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			error = excluded.error`,
		run.RunID, string(run.Status), string(symbols), formatTime(run.DateFrom), formatTime(run.DateTo),
		formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if run.Status == models.RunFinished {
		if err := saveRows(ctx, tx, run); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func saveRows(ctx context.Context, tx *sql.Tx, run *models.RunResult) error {
	for _, r := range run.Rows {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO report_rows (run_id, strategy, total_return, annualized_return, sharpe,
				trades, pct_profitable, dangerous, max_drawdown, failed, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, r.Strategy, r.TotalReturn, r.AnnualizedReturn, r.Sharpe,
			r.Trades, r.PctProfitable, r.Dangerous, r.MaxDrawdown, r.Failed, r.Error,
		)
		if err != nil {
			return fmt.Errorf("insert report row: %w", err)
		}
	}
	for _, t := range run.Trades() {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO trades (run_id, id, strategy, symbol, direction, quantity, open_price,
				close_price, opened_at, closed_at, commission, pnl, fake_closed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, t.ID, t.Strategy, t.Symbol, string(t.Direction), t.Quantity, t.OpenPrice,
			t.ClosePrice, formatTime(t.OpenedAt), formatTime(t.ClosedAt), t.Commission, t.PnL, t.FakeClosed,
		)
		if err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	for _, p := range run.Performances {
		for _, pt := range p.EquityCurve {
			_, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO equity (run_id, strategy, t, total, returns, equity, drawdown)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				run.RunID, p.Strategy, formatTime(pt.Time), pt.Total, pt.Return, pt.Equity, pt.Drawdown,
			)
			if err != nil {
				return fmt.Errorf("insert equity: %w", err)
			}
		}
	}
	return nil
}

func (s *SQLiteResultStore) GetRun(ctx context.Context, runID string) (*models.RunResult, error) {
	run := &models.RunResult{RunID: runID}
	var status, symbols, from, to, started, finished string
	err := s.db.QueryRowContext(ctx, `
		SELECT status, symbols, date_from, date_to, started_at, finished_at, error
		FROM runs WHERE run_id = ?`, runID,
	).Scan(&status, &symbols, &from, &to, &started, &finished, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.Status = models.RunStatus(status)
	if err := json.Unmarshal([]byte(symbols), &run.Symbols); err != nil {
		return nil, fmt.Errorf("decode symbols: %w", err)
	}
	run.DateFrom, run.DateTo = parseTime(from), parseTime(to)
	run.StartedAt, run.FinishedAt = parseTime(started), parseTime(finished)

	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, total_return, annualized_return, sharpe, trades, pct_profitable,
			dangerous, max_drawdown, failed, error
		FROM report_rows WHERE run_id = ? ORDER BY strategy`, runID)
	if err != nil {
		return nil, fmt.Errorf("get report rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.ReportRow
		if err := rows.Scan(&r.Strategy, &r.TotalReturn, &r.AnnualizedReturn, &r.Sharpe, &r.Trades,
			&r.PctProfitable, &r.Dangerous, &r.MaxDrawdown, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		run.Rows = append(run.Rows, r)
	}
	return run, rows.Err()
}

func (s *SQLiteResultStore) ListTrades(ctx context.Context, runID, strategy string, limit int) ([]models.TradeRecord, error) {
	q := `SELECT id, strategy, symbol, direction, quantity, open_price, close_price,
		opened_at, closed_at, commission, pnl, fake_closed FROM trades WHERE run_id = ?`
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
		var dir, opened, closed string
		if err := rows.Scan(&t.ID, &t.Strategy, &t.Symbol, &dir, &t.Quantity, &t.OpenPrice, &t.ClosePrice,
			&opened, &closed, &t.Commission, &t.PnL, &t.FakeClosed); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Direction = models.Direction(dir)
		t.OpenedAt, t.ClosedAt = parseTime(opened), parseTime(closed)
		out = append(out, t)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
