package models

import "time"

// Signal types understood by the strategy translator.
const (
	SignalMomentum      = "momentum"
	SignalMeanReversion = "mean_reversion"
	SignalBreakout      = "breakout"
	SignalOFI           = "ofi"
)

// Position sides.
const (
	SideLong  = "long"
	SideShort = "short"
)

// Exit reasons recorded on closed trades.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitMaxHolding = "max_holding"
	ExitSignalFlip = "signal_flip"
	ExitEndOfData  = "end_of_data"
)

// WarnSimulatedData is attached to every report built on generated data.
const WarnSimulatedData = "Backtest uses simulated data - results may not reflect live performance"

// SignalSpec is one named signal instance of a strategy.
type SignalSpec struct {
	Name   string             `json:"name"`
	Type   string             `json:"type"`
	Params map[string]float64 `json:"params"`
	Weight float64            `json:"weight"`
}

// ExitRules are fractional thresholds relative to the entry price.
// Zero disables a rule.
type ExitRules struct {
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	MaxHoldingBars int     `json:"max_holding_bars"`
}

// Strategy is the validated, engine-neutral form of a strategy document.
type Strategy struct {
	Name         string                 `json:"name"`
	Signals      []SignalSpec           `json:"signals"`
	Exit         ExitRules              `json:"exit"`
	PositionSize float64                `json:"position_size"`
	Document     map[string]interface{} `json:"document"`
}

// DataConfig bounds the market data a backtest replays.
type DataConfig struct {
	StartRaw   string        `json:"start_date"`
	EndRaw     string        `json:"end_date"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Source     string        `json:"source"`
	Instrument string        `json:"instrument"`
	Interval   time.Duration `json:"interval"`
	DataPath   string        `json:"data_path,omitempty"`
}

// EngineConfig carries venue, account and fee parameters.
type EngineConfig struct {
	InitialCapital float64 `json:"initial_capital"`
	CommissionRate float64 `json:"commission_rate"`
	SlippageBps    float64 `json:"slippage_bps"`
	Seed           int64   `json:"seed"`
	Venue          string  `json:"venue"`
	Engine         string  `json:"engine"`
}

// BacktestRequest is what a BacktestEngine runs.
type BacktestRequest struct {
	Strategy Strategy     `json:"strategy"`
	Data     DataConfig   `json:"data"`
	Config   EngineConfig `json:"config"`
}

// Trade is one closed round trip in the ledger.
type Trade struct {
	Side       string    `json:"side"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	// Slippage is the fractional price concession paid over both fills.
	Slippage   float64 `json:"slippage"`
	Bars       int     `json:"bars"`
	ExitReason string  `json:"exit_reason"`
}

// EquityPoint is account equity marked at a bar close.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// RunResult is the raw output of a simulation, before statistics.
type RunResult struct {
	Trades         []Trade       `json:"trades"`
	Equity         []EquityPoint `json:"equity"`
	InitialCapital float64       `json:"initial_capital"`
	BarsProcessed  int           `json:"bars_processed"`
	// MaxDrawdown is the bar-level drawdown when Equity is sampled coarser.
	MaxDrawdown float64  `json:"max_drawdown,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Truncated   bool     `json:"truncated"`
}

// Period echoes the requested range as given.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Performance are ledger-level statistics. Losses are negative numbers;
// max_drawdown is a positive fraction of peak equity.
type Performance struct {
	TotalReturn   float64 `json:"total_return"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	SortinoRatio  float64 `json:"sortino_ratio"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	ProfitFactor  float64 `json:"profit_factor"`
	WinRate       float64 `json:"win_rate"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
}

// PeriodStats summarises returns over one resampling period.
type PeriodStats struct {
	AvgReturn  float64 `json:"avg_return"`
	Volatility float64 `json:"volatility"`
}

// MetricsByPeriod holds daily and weekly return statistics.
type MetricsByPeriod struct {
	Daily  PeriodStats `json:"daily"`
	Weekly PeriodStats `json:"weekly"`
}

// RiskMetrics are tail and streak statistics.
type RiskMetrics struct {
	VaR95                float64 `json:"var_95"`
	CVaR95               float64 `json:"cvar_95"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
}

// ExecutionStats describe fill costs.
type ExecutionStats struct {
	AvgSlippage     float64 `json:"avg_slippage"`
	TotalCommission float64 `json:"total_commission"`
	BarsProcessed   int     `json:"bars_processed"`
}

// TradeLogSummary bounds the trade log. Timestamps are nil without trades.
type TradeLogSummary struct {
	FirstTrade            *string `json:"first_trade"`
	LastTrade             *string `json:"last_trade"`
	AvgHoldingTimeSeconds float64 `json:"avg_holding_time_seconds"`
}

// Report is the backtest runner result document.
type Report struct {
	Status          string          `json:"status"`
	StrategyName    string          `json:"strategy_name"`
	Period          Period          `json:"period"`
	Performance     Performance     `json:"performance"`
	MetricsByPeriod MetricsByPeriod `json:"metrics_by_period"`
	RiskMetrics     RiskMetrics     `json:"risk_metrics"`
	ExecutionStats  ExecutionStats  `json:"execution_stats"`
	Warnings        []string        `json:"warnings"`
	TradeLogSummary TradeLogSummary `json:"trade_log_summary"`
}

// ObjectiveMetrics lists the report fields usable as optimization objectives.
var ObjectiveMetrics = []string{
	"total_return", "sharpe_ratio", "sortino_ratio", "max_drawdown", "profit_factor",
	"win_rate", "total_trades", "winning_trades", "losing_trades", "average_win",
	"average_loss", "largest_win", "largest_loss", "var_95", "cvar_95",
	"max_consecutive_losses", "max_consecutive_wins", "avg_slippage", "total_commission",
}

// IsObjectiveMetric reports whether name can be extracted by Metric.
func IsObjectiveMetric(name string) bool {
	for _, m := range ObjectiveMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// Metric extracts a named statistic from the report.
func (r *Report) Metric(name string) (float64, bool) {
	p := r.Performance
	switch name {
	case "total_return":
		return p.TotalReturn, true
	case "sharpe_ratio":
		return p.SharpeRatio, true
	case "sortino_ratio":
		return p.SortinoRatio, true
	case "max_drawdown":
		return p.MaxDrawdown, true
	case "profit_factor":
		return p.ProfitFactor, true
	case "win_rate":
		return p.WinRate, true
	case "total_trades":
		return float64(p.TotalTrades), true
	case "winning_trades":
		return float64(p.WinningTrades), true
	case "losing_trades":
		return float64(p.LosingTrades), true
	case "average_win":
		return p.AverageWin, true
	case "average_loss":
		return p.AverageLoss, true
	case "largest_win":
		return p.LargestWin, true
	case "largest_loss":
		return p.LargestLoss, true
	case "var_95":
		return r.RiskMetrics.VaR95, true
	case "cvar_95":
		return r.RiskMetrics.CVaR95, true
	case "max_consecutive_losses":
		return float64(r.RiskMetrics.MaxConsecutiveLosses), true
	case "max_consecutive_wins":
		return float64(r.RiskMetrics.MaxConsecutiveWins), true
	case "avg_slippage":
		return r.ExecutionStats.AvgSlippage, true
	case "total_commission":
		return r.ExecutionStats.TotalCommission, true
	default:
		return 0, false
	}
}
