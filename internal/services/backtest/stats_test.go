package backtest

import (
	"math"
	"testing"
	"time"

	"hfttools/internal/domain/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuildReportNoTrades(t *testing.T) {
	r := BuildReport("flat", models.Period{Start: "2024-01-01", End: "2024-01-02"}, &models.RunResult{InitialCapital: 1000})
	p := r.Performance
	if p.TotalTrades != 0 || p.WinningTrades != 0 || p.LosingTrades != 0 {
		t.Fatalf("unexpected counts: %+v", p)
	}
	if p.ProfitFactor != 0 || p.WinRate != 0 || p.SharpeRatio != 0 || p.TotalReturn != 0 {
		t.Fatalf("expected zero ratios: %+v", p)
	}
	if r.TradeLogSummary.FirstTrade != nil || r.TradeLogSummary.LastTrade != nil {
		t.Fatalf("expected nil trade log timestamps")
	}
	if len(r.Warnings) != 1 || r.Warnings[0] != warnNoTrades {
		t.Fatalf("unexpected warnings %v", r.Warnings)
	}
	if r.Period.Start != "2024-01-01" || r.StrategyName != "flat" || r.Status != "success" {
		t.Fatalf("unexpected header: %+v", r)
	}
}

func TestBuildReportTradeStats(t *testing.T) {
	trade := func(h int, pnl float64) models.Trade {
		return models.Trade{
			EntryTime:  t0.Add(time.Duration(h) * time.Hour),
			ExitTime:   t0.Add(time.Duration(h+2) * time.Hour),
			PnL:        pnl,
			Commission: 1,
			Slippage:   0.0001,
		}
	}
	res := &models.RunResult{
		InitialCapital: 1000,
		Trades:         []models.Trade{trade(0, 10), trade(3, -5), trade(6, 0), trade(9, 20)},
		Equity:         []models.EquityPoint{{Time: t0.Add(20 * time.Hour), Equity: 1025}},
	}
	r := BuildReport("mix", models.Period{}, res)
	p := r.Performance
	if p.TotalTrades != 4 || p.WinningTrades != 2 || p.LosingTrades != 2 {
		t.Fatalf("unexpected counts: %+v", p)
	}
	if p.WinningTrades+p.LosingTrades != p.TotalTrades {
		t.Fatalf("win/lose split does not add up")
	}
	if !approx(p.ProfitFactor, 6) || !approx(p.AverageWin, 15) || !approx(p.AverageLoss, -2.5) {
		t.Fatalf("unexpected ratios: %+v", p)
	}
	if p.LargestWin != 20 || p.LargestLoss != -5 || p.WinRate != 0.5 {
		t.Fatalf("unexpected extremes: %+v", p)
	}
	if r.RiskMetrics.MaxConsecutiveLosses != 2 || r.RiskMetrics.MaxConsecutiveWins != 1 {
		t.Fatalf("unexpected streaks: %+v", r.RiskMetrics)
	}
	if !approx(p.TotalReturn, 0.025) {
		t.Fatalf("unexpected total return %v", p.TotalReturn)
	}
	if r.ExecutionStats.TotalCommission != 4 || !approx(r.ExecutionStats.AvgSlippage, 0.0001) {
		t.Fatalf("unexpected execution stats: %+v", r.ExecutionStats)
	}
	if *r.TradeLogSummary.FirstTrade != "2024-01-01T00:00:00Z" || *r.TradeLogSummary.LastTrade != "2024-01-01T11:00:00Z" {
		t.Fatalf("unexpected trade log: %s %s", *r.TradeLogSummary.FirstTrade, *r.TradeLogSummary.LastTrade)
	}
	if r.TradeLogSummary.AvgHoldingTimeSeconds != 7200 {
		t.Fatalf("unexpected holding time %v", r.TradeLogSummary.AvgHoldingTimeSeconds)
	}
}

func TestProfitFactorCappedWithoutLosses(t *testing.T) {
	res := &models.RunResult{InitialCapital: 100, Trades: []models.Trade{{PnL: 3, EntryTime: t0, ExitTime: t0}}}
	if pf := BuildReport("", models.Period{}, res).Performance.ProfitFactor; pf != profitFactorCap {
		t.Fatalf("expected capped profit factor, got %v", pf)
	}
}

func TestMaxDrawdown(t *testing.T) {
	eq := []models.EquityPoint{{Equity: 120}, {Equity: 90}, {Equity: 130}, {Equity: 117}}
	if dd := maxDrawdown(100, eq); !approx(dd, 0.25) {
		t.Fatalf("expected 0.25, got %v", dd)
	}
	if dd := maxDrawdown(100, nil); dd != 0 {
		t.Fatalf("expected 0 without equity, got %v", dd)
	}
}

func TestValueAtRisk(t *testing.T) {
	v, cv := valueAtRisk([]float64{0.1, -0.2, 0.1, 0.1, 0.1}, 0.95)
	if !approx(v, 0.14) || !approx(cv, 0.2) {
		t.Fatalf("unexpected var/cvar %v %v", v, cv)
	}
	if v, cv := valueAtRisk([]float64{0.01, 0.02}, 0.95); v != 0 || cv != 0 {
		t.Fatalf("gains only should have zero risk, got %v %v", v, cv)
	}
}

func TestPeriodReturnsResamplesByDay(t *testing.T) {
	eq := []models.EquityPoint{
		{Time: t0.Add(10 * time.Hour), Equity: 105},
		{Time: t0.Add(23 * time.Hour), Equity: 110},
		{Time: t0.Add(47 * time.Hour), Equity: 99},
	}
	got := periodReturns(100, eq, dayKey)
	if len(got) != 2 || !approx(got[0], 0.1) || !approx(got[1], -0.1) {
		t.Fatalf("unexpected daily returns %v", got)
	}
	weekly := periodReturns(100, eq, weekKey)
	if len(weekly) != 1 || !approx(weekly[0], -0.01) {
		t.Fatalf("unexpected weekly returns %v", weekly)
	}
}

func TestSanitizeClearsNonFinite(t *testing.T) {
	r := &models.Report{}
	r.Performance.SharpeRatio = math.Inf(1)
	r.RiskMetrics.VaR95 = math.NaN()
	sanitize(r)
	if r.Performance.SharpeRatio != 0 || r.RiskMetrics.VaR95 != 0 {
		t.Fatalf("non-finite values survived: %+v", r)
	}
}
