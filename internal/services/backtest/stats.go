package backtest

import (
	"math"
	"sort"
	"time"

	"hfttools/internal/domain/models"
)

const (
	// Crypto venues trade every day of the year.
	periodsPerYear = 365.0
	weeksPerYear   = 52.0

	// profitFactorCap stands in for +Inf when there are wins and no losses.
	profitFactorCap = 100.0

	warnNoTrades = "no trades executed"
)

// BuildReport derives every report statistic from a run's ledger and equity
// curve. It never divides by zero: empty inputs produce zeros.
func BuildReport(name string, period models.Period, res *models.RunResult) *models.Report {
	r := &models.Report{
		Status:       "success",
		StrategyName: name,
		Period:       period,
		Warnings:     append([]string{}, res.Warnings...),
	}

	fillTradeStats(r, res.Trades)

	initial := res.InitialCapital
	final := initial
	if n := len(res.Equity); n > 0 {
		final = res.Equity[n-1].Equity
	}
	if initial > 0 {
		r.Performance.TotalReturn = final/initial - 1
	}

	daily := periodReturns(initial, res.Equity, dayKey)
	weekly := periodReturns(initial, res.Equity, weekKey)
	r.MetricsByPeriod.Daily = summarize(daily)
	r.MetricsByPeriod.Weekly = summarize(weekly)

	if sd := r.MetricsByPeriod.Daily.Volatility; sd > 0 {
		r.Performance.SharpeRatio = r.MetricsByPeriod.Daily.AvgReturn / sd * math.Sqrt(periodsPerYear)
	}
	if dd := downsideDeviation(daily); dd > 0 {
		r.Performance.SortinoRatio = mean(daily) / dd * math.Sqrt(periodsPerYear)
	}
	r.Performance.MaxDrawdown = math.Max(maxDrawdown(initial, res.Equity), res.MaxDrawdown)

	r.RiskMetrics.VaR95, r.RiskMetrics.CVaR95 = valueAtRisk(daily, 0.95)

	r.ExecutionStats.BarsProcessed = res.BarsProcessed

	if r.Performance.TotalTrades == 0 {
		r.Warnings = appendUnique(r.Warnings, warnNoTrades)
	}
	sanitize(r)
	return r
}

func fillTradeStats(r *models.Report, trades []models.Trade) {
	p := &r.Performance
	p.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var grossWin, grossLoss, slip, holding float64
	var winStreak, lossStreak int
	first, last := trades[0].EntryTime, trades[0].ExitTime
	for _, t := range trades {
		if t.PnL > 0 {
			p.WinningTrades++
			grossWin += t.PnL
			p.LargestWin = math.Max(p.LargestWin, t.PnL)
			winStreak++
			lossStreak = 0
		} else {
			p.LosingTrades++
			grossLoss += t.PnL
			p.LargestLoss = math.Min(p.LargestLoss, t.PnL)
			lossStreak++
			winStreak = 0
		}
		if winStreak > r.RiskMetrics.MaxConsecutiveWins {
			r.RiskMetrics.MaxConsecutiveWins = winStreak
		}
		if lossStreak > r.RiskMetrics.MaxConsecutiveLosses {
			r.RiskMetrics.MaxConsecutiveLosses = lossStreak
		}

		r.ExecutionStats.TotalCommission += t.Commission
		slip += t.Slippage
		holding += t.ExitTime.Sub(t.EntryTime).Seconds()
		if t.EntryTime.Before(first) {
			first = t.EntryTime
		}
		if t.ExitTime.After(last) {
			last = t.ExitTime
		}
	}

	n := float64(len(trades))
	p.WinRate = float64(p.WinningTrades) / n
	if p.WinningTrades > 0 {
		p.AverageWin = grossWin / float64(p.WinningTrades)
	}
	if p.LosingTrades > 0 {
		p.AverageLoss = grossLoss / float64(p.LosingTrades)
	}
	switch {
	case grossLoss < 0:
		p.ProfitFactor = math.Min(grossWin/-grossLoss, profitFactorCap)
	case grossWin > 0:
		p.ProfitFactor = profitFactorCap
	}

	r.ExecutionStats.AvgSlippage = slip / n
	f, l := first.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339)
	r.TradeLogSummary.FirstTrade = &f
	r.TradeLogSummary.LastTrade = &l
	r.TradeLogSummary.AvgHoldingTimeSeconds = holding / n
}

func dayKey(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

func weekKey(t time.Time) int64 {
	y, w := t.UTC().ISOWeek()
	return int64(y)*100 + int64(w)
}

// periodReturns resamples equity to the last point of each period and
// returns period-over-period returns, the first measured from initial.
func periodReturns(initial float64, equity []models.EquityPoint, key func(time.Time) int64) []float64 {
	if len(equity) == 0 || initial <= 0 {
		return nil
	}
	var closes []float64
	cur := key(equity[0].Time)
	for i, pt := range equity {
		k := key(pt.Time)
		if k != cur {
			closes = append(closes, equity[i-1].Equity)
			cur = k
		}
	}
	closes = append(closes, equity[len(equity)-1].Equity)

	out := make([]float64, 0, len(closes))
	prev := initial
	for _, c := range closes {
		if prev > 0 {
			out = append(out, c/prev-1)
		}
		prev = c
	}
	return out
}

func summarize(xs []float64) models.PeriodStats {
	return models.PeriodStats{AvgReturn: mean(xs), Volatility: stddev(xs)}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev is the sample standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func downsideDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		if x < 0 {
			ss += x * x
		}
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func maxDrawdown(initial float64, equity []models.EquityPoint) float64 {
	peak := initial
	var dd float64
	for _, pt := range equity {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			dd = math.Max(dd, (peak-pt.Equity)/peak)
		}
	}
	return dd
}

// valueAtRisk returns historical VaR and CVaR at level as positive loss
// fractions.
func valueAtRisk(returns []float64, level float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	q := percentileSorted(sorted, 1-level)

	var tail []float64
	for _, r := range sorted {
		if r > q {
			break
		}
		tail = append(tail, r)
	}
	return math.Max(0, -q), math.Max(0, -mean(tail))
}

func percentileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	// Linear interpolation between order stats.
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func appendUnique(xs []string, s string) []string {
	for _, x := range xs {
		if x == s {
			return xs
		}
	}
	return append(xs, s)
}

// sanitize replaces non-finite values, which encoding/json cannot encode.
func sanitize(r *models.Report) {
	for _, f := range []*float64{
		&r.Performance.TotalReturn, &r.Performance.SharpeRatio, &r.Performance.SortinoRatio,
		&r.Performance.MaxDrawdown, &r.Performance.ProfitFactor, &r.Performance.WinRate,
		&r.Performance.AverageWin, &r.Performance.AverageLoss, &r.Performance.LargestWin,
		&r.Performance.LargestLoss, &r.MetricsByPeriod.Daily.AvgReturn,
		&r.MetricsByPeriod.Daily.Volatility, &r.MetricsByPeriod.Weekly.AvgReturn,
		&r.MetricsByPeriod.Weekly.Volatility, &r.RiskMetrics.VaR95, &r.RiskMetrics.CVaR95,
		&r.ExecutionStats.AvgSlippage, &r.ExecutionStats.TotalCommission,
		&r.TradeLogSummary.AvgHoldingTimeSeconds,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
}
