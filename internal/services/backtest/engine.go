package backtest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
	"hfttools/pkg/logger"
)

const (
	// EngineReference names the built-in bar replay engine.
	EngineReference = "reference"

	// voteThreshold is the weighted vote needed to hold a side.
	voteThreshold = 0.5

	cancelCheckEvery = 1024

	warnTruncated = "run stopped early by progress callback"
)

// BarLoader provides the bars a backtest replays. simulated reports
// generated data.
type BarLoader interface {
	LoadBars(ctx context.Context, cfg models.DataConfig, seed int64) (bars []models.Record, simulated bool, err error)
}

// ReferenceEngine replays OHLCV bars through the strategy's weighted signal
// vote with a single long/short position.
type ReferenceEngine struct {
	loader  BarLoader
	log     *logger.Logger
	metrics repository.Metrics
}

// EngineOption configures ReferenceEngine.
type EngineOption func(*ReferenceEngine)

// WithLogger sets the engine logger.
func WithLogger(l *logger.Logger) EngineOption {
	return func(e *ReferenceEngine) {
		e.log = l
	}
}

// WithMetrics records processed bars.
func WithMetrics(m repository.Metrics) EngineOption {
	return func(e *ReferenceEngine) {
		e.metrics = m
	}
}

// NewReferenceEngine creates the built-in engine.
func NewReferenceEngine(loader BarLoader, opts ...EngineOption) *ReferenceEngine {
	e := &ReferenceEngine{loader: loader, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements repository.BacktestEngine.
func (e *ReferenceEngine) Name() string { return EngineReference }

// Run implements repository.BacktestEngine.
func (e *ReferenceEngine) Run(ctx context.Context, req *models.BacktestRequest, progress repository.ProgressFunc) (*models.Report, error) {
	start := time.Now()
	bars, simulated, err := e.loader.LoadBars(ctx, req.Data, req.Config.Seed)
	if err != nil {
		return nil, err
	}

	res, err := Simulate(ctx, req, bars, progress)
	if err != nil {
		return nil, err
	}
	if simulated {
		res.Warnings = append([]string{models.WarnSimulatedData}, res.Warnings...)
	}
	if len(bars) == 0 {
		res.Warnings = append(res.Warnings, "no market data in the requested range")
	}
	if gaps, missing := countGaps(bars, req.Data.Interval); gaps > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("data range has %d gaps (%d missing bars)", gaps, missing))
	}
	if res.Truncated {
		res.Warnings = append(res.Warnings, warnTruncated)
	}

	if e.metrics != nil {
		e.metrics.RecordBars(res.BarsProcessed)
	}
	e.log.Debug("backtest finished",
		logger.String("strategy", req.Strategy.Name),
		logger.Int("bars", res.BarsProcessed),
		logger.Int("trades", len(res.Trades)),
		logger.Bool("truncated", res.Truncated),
		logger.Duration("elapsed_ms", time.Since(start)),
	)

	period := models.Period{Start: req.Data.StartRaw, End: req.Data.EndRaw}
	return BuildReport(req.Strategy.Name, period, res), nil
}

// Simulate replays bars for req. It reports once per UTC day through
// progress and stops early when progress returns false.
func Simulate(ctx context.Context, req *models.BacktestRequest, bars []models.Record, progress repository.ProgressFunc) (*models.RunResult, error) {
	cfg := req.Config
	s := &simulator{
		cfg:   cfg,
		exit:  req.Strategy.Exit,
		size:  req.Strategy.PositionSize,
		slip:  cfg.SlippageBps / 1e4,
		rng:   rand.New(rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15)),
		cash:  cfg.InitialCapital,
		peak:  cfg.InitialCapital,
		specs: req.Strategy.Signals,
	}
	for _, spec := range req.Strategy.Signals {
		sig := newSignal(spec)
		s.signals = append(s.signals, sig)
		if w := sig.Warmup(); w > s.warmup {
			s.warmup = w
		}
	}

	step := 0
	for i := range bars {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, adapter.Wrap(adapter.KindCancelled, err, "backtest cancelled")
			}
		}
		s.onBar(bars, i)

		lastOfDay := i == len(bars)-1 || dayKey(bars[i+1].Timestamp) != dayKey(bars[i].Timestamp)
		if !lastOfDay {
			continue
		}
		s.daily = append(s.daily, models.EquityPoint{Time: bars[i].Timestamp, Equity: s.equity(bars[i].Close)})
		if progress == nil || i == len(bars)-1 {
			continue
		}
		var partial *models.Report
		metrics := func(name string) (float64, bool) {
			if partial == nil {
				partial = BuildReport("", models.Period{}, s.result(i+1, false))
			}
			return partial.Metric(name)
		}
		if !progress(step, metrics) {
			s.closePosition(bars[i], i, models.ExitEndOfData)
			s.daily[len(s.daily)-1].Equity = s.cash
			return s.result(i+1, true), nil
		}
		step++
	}

	if n := len(bars); n > 0 && s.pos != nil {
		s.closePosition(bars[n-1], n-1, models.ExitEndOfData)
		s.daily[len(s.daily)-1].Equity = s.cash
	}
	return s.result(len(bars), false), nil
}

type position struct {
	side       float64
	entryPrice float64
	qty        float64
	entryComm  float64
	entryTime  time.Time
	entryBar   int
}

type simulator struct {
	cfg     models.EngineConfig
	exit    models.ExitRules
	size    float64
	slip    float64
	rng     *rand.Rand
	specs   []models.SignalSpec
	signals []Signal
	warmup  int

	cash   float64
	pos    *position
	trades []models.Trade
	daily  []models.EquityPoint
	peak   float64
	maxDD  float64
}

func (s *simulator) onBar(bars []models.Record, i int) {
	bar := bars[i]
	if s.pos != nil && i > s.pos.entryBar {
		s.checkExits(bar, i)
	}

	if len(s.signals) > 0 && i >= s.warmup {
		target := s.target(bars, i)
		switch {
		case s.pos != nil && target == -s.pos.side:
			s.closePosition(bar, i, models.ExitSignalFlip)
			s.openPosition(bar, i, target)
		case s.pos == nil && target != 0:
			s.openPosition(bar, i, target)
		}
	}

	eq := s.equity(bar.Close)
	if eq > s.peak {
		s.peak = eq
	}
	if s.peak > 0 {
		if dd := (s.peak - eq) / s.peak; dd > s.maxDD {
			s.maxDD = dd
		}
	}
}

func (s *simulator) target(bars []models.Record, i int) float64 {
	var vote, weight float64
	for k, sig := range s.signals {
		w := s.specs[k].Weight
		vote += w * sig.Vote(bars, i)
		weight += w
	}
	if weight <= 0 {
		return 0
	}
	vote /= weight
	switch {
	case vote >= voteThreshold:
		return 1
	case vote <= -voteThreshold:
		return -1
	default:
		return 0
	}
}

func (s *simulator) checkExits(bar models.Record, i int) {
	p := s.pos
	var stopPx, takePx float64
	var hitStop, hitTake bool
	if s.exit.StopLoss > 0 {
		stopPx = p.entryPrice * (1 - p.side*s.exit.StopLoss)
		hitStop = (p.side > 0 && bar.Low <= stopPx) || (p.side < 0 && bar.High >= stopPx)
	}
	if s.exit.TakeProfit > 0 {
		takePx = p.entryPrice * (1 + p.side*s.exit.TakeProfit)
		hitTake = (p.side > 0 && bar.High >= takePx) || (p.side < 0 && bar.Low <= takePx)
	}

	// Bars carry no intrabar order; a seeded coin decides which level
	// traded first when both are inside the range.
	if hitStop && hitTake {
		if s.rng.Float64() < 0.5 {
			hitTake = false
		} else {
			hitStop = false
		}
	}

	switch {
	case hitStop:
		s.closeAt(gapFill(bar, stopPx, p.side, true), bar.Timestamp, i, models.ExitStopLoss)
	case hitTake:
		s.closeAt(gapFill(bar, takePx, p.side, false), bar.Timestamp, i, models.ExitTakeProfit)
	case s.exit.MaxHoldingBars > 0 && i-p.entryBar >= s.exit.MaxHoldingBars:
		s.closeAt(bar.Close, bar.Timestamp, i, models.ExitMaxHolding)
	}
}

// gapFill returns the level, or the open when the bar opened beyond it.
func gapFill(bar models.Record, level, side float64, stop bool) float64 {
	adverse := (side > 0) == stop
	if adverse && bar.Open < level {
		return bar.Open
	}
	if !adverse && bar.Open > level {
		return bar.Open
	}
	return level
}

func (s *simulator) openPosition(bar models.Record, i int, side float64) {
	eq := s.cash
	if eq <= 0 || bar.Close <= 0 {
		return
	}
	fill := bar.Close * (1 + side*s.slip)
	notional := eq * s.size
	comm := notional * s.cfg.CommissionRate
	s.cash -= comm
	s.pos = &position{
		side:       side,
		entryPrice: fill,
		qty:        notional / fill,
		entryComm:  comm,
		entryTime:  bar.Timestamp,
		entryBar:   i,
	}
}

func (s *simulator) closePosition(bar models.Record, i int, reason string) {
	if s.pos == nil {
		return
	}
	s.closeAt(bar.Close, bar.Timestamp, i, reason)
}

func (s *simulator) closeAt(price float64, ts time.Time, i int, reason string) {
	p := s.pos
	fill := price * (1 - p.side*s.slip)
	gross := p.side * (fill - p.entryPrice) * p.qty
	comm := fill * p.qty * s.cfg.CommissionRate
	s.cash += gross - comm

	side := models.SideLong
	if p.side < 0 {
		side = models.SideShort
	}
	s.trades = append(s.trades, models.Trade{
		Side:       side,
		EntryTime:  p.entryTime,
		ExitTime:   ts,
		EntryPrice: p.entryPrice,
		ExitPrice:  fill,
		Quantity:   p.qty,
		PnL:        gross - p.entryComm - comm,
		Commission: p.entryComm + comm,
		Slippage:   s.slip,
		Bars:       i - p.entryBar,
		ExitReason: reason,
	})
	s.pos = nil
}

func (s *simulator) equity(mark float64) float64 {
	if s.pos == nil {
		return s.cash
	}
	return s.cash + s.pos.side*(mark-s.pos.entryPrice)*s.pos.qty
}

func (s *simulator) result(processed int, truncated bool) *models.RunResult {
	return &models.RunResult{
		Trades:         append([]models.Trade(nil), s.trades...),
		Equity:         append([]models.EquityPoint(nil), s.daily...),
		InitialCapital: s.cfg.InitialCapital,
		BarsProcessed:  processed,
		MaxDrawdown:    s.maxDD,
		Truncated:      truncated,
	}
}

// countGaps counts holes longer than twice the bar interval.
func countGaps(bars []models.Record, interval time.Duration) (gaps, missing int) {
	if interval <= 0 {
		return 0, 0
	}
	for i := 1; i < len(bars); i++ {
		d := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		if d > 2*interval {
			gaps++
			missing += int(d/interval) - 1
		}
	}
	return gaps, missing
}
