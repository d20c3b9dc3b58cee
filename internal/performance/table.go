package performance

import (
	"fmt"
	"sort"
	"strings"

	"Backtest/internal/domain/models"
)

// Report columns accepted by Sort.
const (
	ColStrategy         = "strategy"
	ColTotalReturn      = "total_return"
	ColAnnualizedReturn = "annualized_return"
	ColSharpe           = "sharpe"
	ColTrades           = "trades"
	ColPctProfitable    = "pct_profitable"
	ColDangerous        = "dangerous"
	ColMaxDrawdown      = "max_drawdown"
)

var columns = []string{
	ColStrategy, ColTotalReturn, ColAnnualizedReturn, ColSharpe,
	ColTrades, ColPctProfitable, ColDangerous, ColMaxDrawdown,
}

// Columns lists the sortable report columns.
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// Table is the performance report, one row per strategy.
type Table []models.ReportRow

// NewTable builds a report from finished performances and failed strategies.
func NewTable(perfs []*models.Performance, failed map[string]error) Table {
	t := make(Table, 0, len(perfs)+len(failed))
	for _, p := range perfs {
		t = append(t, p.Row())
	}
	for name, err := range failed {
		row := models.ReportRow{Strategy: name, Failed: true}
		if err != nil {
			row.Error = err.Error()
		}
		t = append(t, row)
	}
	return t
}

// Sort orders rows by column. Failed rows always go last; ties are broken by
// strategy name.
func (t Table) Sort(column string, desc bool) error {
	less, ok := lessBy(column)
	if !ok {
		return fmt.Errorf("unknown report column %q (want one of %s)", column, strings.Join(columns, ", "))
	}
	sort.SliceStable(t, func(i, j int) bool {
		a, b := t[i], t[j]
		if a.Failed != b.Failed {
			return !a.Failed
		}
		switch {
		case less(a, b):
			return !desc
		case less(b, a):
			return desc
		}
		return a.Strategy < b.Strategy
	})
	return nil
}

func lessBy(column string) (func(a, b models.ReportRow) bool, bool) {
	switch column {
	case ColStrategy:
		return func(a, b models.ReportRow) bool { return a.Strategy < b.Strategy }, true
	case ColTotalReturn:
		return func(a, b models.ReportRow) bool { return a.TotalReturn < b.TotalReturn }, true
	case ColAnnualizedReturn:
		return func(a, b models.ReportRow) bool { return a.AnnualizedReturn < b.AnnualizedReturn }, true
	case ColSharpe:
		return func(a, b models.ReportRow) bool { return a.Sharpe < b.Sharpe }, true
	case ColTrades:
		return func(a, b models.ReportRow) bool { return a.Trades < b.Trades }, true
	case ColPctProfitable:
		return func(a, b models.ReportRow) bool { return a.PctProfitable < b.PctProfitable }, true
	case ColDangerous:
		return func(a, b models.ReportRow) bool { return !a.Dangerous && b.Dangerous }, true
	case ColMaxDrawdown:
		return func(a, b models.ReportRow) bool { return a.MaxDrawdown < b.MaxDrawdown }, true
	}
	return nil, false
}

// String renders the table as aligned text for logs and the CLI.
func (t Table) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %12s %12s %8s %8s %10s %9s %8s\n",
		"strategy", "total_ret%", "annual_ret%", "sharpe", "trades", "profit%", "dangerous", "max_dd%")
	for _, r := range t {
		if r.Failed {
			fmt.Fprintf(&b, "%-24s FAILED: %s\n", r.Strategy, r.Error)
			continue
		}
		fmt.Fprintf(&b, "%-24s %12.2f %12.2f %8.2f %8d %10.2f %9t %8.2f\n",
			r.Strategy, r.TotalReturn, r.AnnualizedReturn, r.Sharpe, r.Trades, r.PctProfitable, r.Dangerous, r.MaxDrawdown)
	}
	return b.String()
}
