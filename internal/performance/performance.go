// Package performance turns a portfolio's holding history and trade list into
// return, risk and trade statistics.
package performance

import (
	"math"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
)

const daysPerYear = 365.2425

// Calc computes the statistics of one portfolio run. history must be ordered
// by time; trades include fake-closed ones.
func Calc(strategy string, history []models.Holding, trades []models.TradeRecord, dangerousThreshold float64) (*models.Performance, error) {
	if len(history) == 0 {
		return nil, errs.ErrEmptyHoldings
	}
	perf := &models.Performance{
		Strategy:  strategy,
		Bars:      len(history),
		Holdings:  history,
		AllTrades: trades,
	}

	curve, returns := equityCurve(history)
	perf.EquityCurve = curve
	final := curve[len(curve)-1].Equity

	days := math.Floor(history[len(history)-1].Time.Sub(history[0].Time).Hours() / 24)
	perf.Years = days / daysPerYear

	perf.TotalReturn = (final - 1) * 100
	if perf.Years > 0 {
		perf.AnnualizedReturn = (math.Pow(final, 1/perf.Years) - 1) * 100
		perf.Sharpe = Sharpe(returns, float64(len(history))/perf.Years)
	}

	perf.MaxDrawdown, perf.DrawdownDuration = drawdown(curve)

	perf.Trades = len(trades)
	if perf.Years > 0 {
		perf.TradesPerYear = float64(perf.Trades) / perf.Years
	}
	if perf.Trades > 0 {
		var wins, sum float64
		for _, t := range trades {
			if t.PnL > 0 {
				wins++
			}
			sum += t.PnL
		}
		perf.PctProfitable = wins / float64(perf.Trades) * 100
		perf.PctLoss = 100 - perf.PctProfitable
		for _, t := range trades {
			if t.PnL > sum*dangerousThreshold {
				perf.DangerousTrades = append(perf.DangerousTrades, t)
			}
		}
		perf.Dangerous = len(perf.DangerousTrades) > 0
	}

	var subs float64
	for _, h := range history {
		subs += float64(h.SubscribedSymbols)
	}
	perf.AvgSubscribedSymbols = subs / float64(len(history))
	return perf, nil
}

// equityCurve returns the curve and the bar-over-bar returns after the first bar.
func equityCurve(history []models.Holding) ([]models.EquityPoint, []float64) {
	curve := make([]models.EquityPoint, len(history))
	returns := make([]float64, 0, len(history)-1)
	eq := 1.0
	for i, h := range history {
		var r float64
		if i > 0 && history[i-1].Total != 0 {
			r = h.Total/history[i-1].Total - 1
		}
		if i > 0 {
			returns = append(returns, r)
		}
		eq *= 1 + r
		curve[i] = models.EquityPoint{Time: h.Time, Total: h.Total, Return: r, Equity: eq}
	}
	return curve, returns
}

// Sharpe is sqrt(barsPerYear) * mean / sample stdev. It is zero when the mean
// or the deviation is zero or there are fewer than two returns.
func Sharpe(returns []float64, barsPerYear float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / float64(n-1))
	if sd == 0 {
		return 0
	}
	return math.Sqrt(barsPerYear) * mean / sd
}

// drawdown walks the high-water mark, filling the per-point drawdown, and
// returns the maximum in percent and the longest run of bars below the mark.
func drawdown(curve []models.EquityPoint) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}
	hwm := curve[0].Equity
	var maxDD float64
	var dur, maxDur int
	for i := 1; i < len(curve); i++ {
		hwm = math.Max(hwm, curve[i].Equity)
		var dd float64
		if hwm > 0 {
			dd = (hwm - curve[i].Equity) / hwm
		}
		curve[i].Drawdown = dd * 100
		if dd == 0 {
			dur = 0
		} else {
			dur++
		}
		maxDD = math.Max(maxDD, dd)
		if dur > maxDur {
			maxDur = dur
		}
	}
	return maxDD * 100, maxDur
}
