package models

import "time"

// TradeRecord is the reporting view of a closed (or fake-closed) trade.
type TradeRecord struct {
	ID         string    `json:"id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Quantity   float64   `json:"quantity"`
	OpenPrice  float64   `json:"open_price"`
	ClosePrice float64   `json:"close_price"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	Commission float64   `json:"commission"`
	PnL        float64   `json:"pnl"`
	FakeClosed bool      `json:"fake_closed"`
}

// EquityPoint is one row of the equity curve.
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Total    float64   `json:"total"`
	Return   float64   `json:"return"`
	Equity   float64   `json:"equity"`
	Drawdown float64   `json:"drawdown"`
}

// Performance is the full statistics set of one portfolio run.
type Performance struct {
	Strategy             string        `json:"strategy"`
	TotalReturn          float64       `json:"total_return"`
	AnnualizedReturn     float64       `json:"annualized_return"`
	Sharpe               float64       `json:"sharpe"`
	Trades               int           `json:"trades"`
	TradesPerYear        float64       `json:"trades_per_year"`
	PctProfitable        float64       `json:"pct_profitable"`
	PctLoss              float64       `json:"pct_loss"`
	Dangerous            bool          `json:"dangerous"`
	DangerousTrades      []TradeRecord `json:"dangerous_trades,omitempty"`
	MaxDrawdown          float64       `json:"max_drawdown"`
	DrawdownDuration     int           `json:"drawdown_duration"`
	AvgSubscribedSymbols float64       `json:"avg_subscribed_symbols"`
	Bars                 int           `json:"bars"`
	Years                float64       `json:"years"`
	EquityCurve          []EquityPoint `json:"equity_curve,omitempty"`
	Holdings             []Holding     `json:"-"`
	AllTrades            []TradeRecord `json:"-"`
}

// Row projects the statistics onto a report table row.
func (p *Performance) Row() ReportRow {
	return ReportRow{
		Strategy:         p.Strategy,
		TotalReturn:      p.TotalReturn,
		AnnualizedReturn: p.AnnualizedReturn,
		Sharpe:           p.Sharpe,
		Trades:           p.Trades,
		PctProfitable:    p.PctProfitable,
		Dangerous:        p.Dangerous,
		MaxDrawdown:      p.MaxDrawdown,
	}
}

// ReportRow is one line of the performance report, keyed by strategy.
type ReportRow struct {
	Strategy         string  `json:"strategy"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Sharpe           float64 `json:"sharpe"`
	Trades           int     `json:"trades"`
	PctProfitable    float64 `json:"pct_profitable"`
	Dangerous        bool    `json:"dangerous"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Failed           bool    `json:"failed,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// RunStatus tracks a submitted run.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// RunResult is the outcome of one replay over N portfolios.
type RunResult struct {
	RunID        string         `json:"run_id"`
	Status       RunStatus      `json:"status"`
	Symbols      []string       `json:"symbols"`
	DateFrom     time.Time      `json:"date_from"`
	DateTo       time.Time      `json:"date_to"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Rows         []ReportRow    `json:"rows"`
	Performances []*Performance `json:"-"`
	Error        string         `json:"error,omitempty"`
}

// Trades flattens the trade records of every portfolio in the run.
func (r *RunResult) Trades() []TradeRecord {
	var out []TradeRecord
	for _, p := range r.Performances {
		out = append(out, p.AllTrades...)
	}
	return out
}
