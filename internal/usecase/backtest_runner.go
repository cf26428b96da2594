package usecase

import (
	"context"
	"fmt"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/internal/services/backtest"
	"hfttools/internal/services/optimize"
	"hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
	"hfttools/pkg/util"
)

// DataInput is the dataConfig block shared by backtest and optimizer
// requests. It is persisted with studies, so it keeps the request spelling.
type DataInput struct {
	StartDate  string `json:"startDate" validate:"required,date"`
	EndDate    string `json:"endDate" validate:"required,date"`
	Source     string `json:"source" default:"synthetic"`
	Instrument string `json:"instrument" default:"SYNTH-USD" validate:"required"`
	Interval   string `json:"interval" default:"1h" validate:"interval"`
	DataPath   string `json:"dataPath,omitempty"`
}

// EngineInput is the config block. Pointer fields keep an explicit zero
// apart from an omitted value.
type EngineInput struct {
	InitialCapital float64  `json:"initialCapital" default:"100000" validate:"gt=0"`
	CommissionRate *float64 `json:"commissionRate" default:"0.0004" validate:"gte=0,lt=1"`
	SlippageBps    *float64 `json:"slippageBps" default:"1" validate:"gte=0,lte=10000"`
	Seed           *int64   `json:"seed" default:"42"`
	Venue          string   `json:"venue" default:"SIM"`
	Engine         string   `json:"engine,omitempty"`
}

// BacktestConfigInput is the optimizer's backtestConfig block.
type BacktestConfigInput struct {
	DataConfig DataInput   `json:"dataConfig"`
	Config     EngineInput `json:"config"`
}

// BacktestParams is a decoded backtest request.
type BacktestParams struct {
	Strategy map[string]interface{}
	Data     DataInput
	Config   EngineInput
}

// SourceLookup resolves market data sources for early validation.
type SourceLookup interface {
	Get(name string) (repository.MarketDataSource, error)
}

// BacktestRunner validates backtest requests and runs them on the selected
// engine.
type BacktestRunner struct {
	engines *backtest.Engines
	sources SourceLookup
	metrics repository.Metrics
	l       *applogger.Logger
}

// NewBacktestRunner creates the runner. sources and m may be nil.
func NewBacktestRunner(engines *backtest.Engines, sources SourceLookup, m repository.Metrics, l *applogger.Logger) *BacktestRunner {
	if l == nil {
		l = applogger.Nop()
	}
	return &BacktestRunner{engines: engines, sources: sources, metrics: m, l: l}
}

// Prepared is a validated request bound to its engine.
type Prepared struct {
	Request *models.BacktestRequest
	Engine  repository.BacktestEngine
}

// Prepare validates p completely without loading any data.
func (uc *BacktestRunner) Prepare(p BacktestParams) (*Prepared, error) {
	strategy, err := backtest.ParseStrategy(p.Strategy)
	if err != nil {
		return nil, err
	}

	start, end, err := util.ParseRange(p.Data.StartDate, p.Data.EndDate)
	if err != nil {
		return nil, adapter.ValidationFailedf("dataConfig: %v", err).WithField("dataConfig.endDate")
	}
	interval, err := util.ParseInterval(p.Data.Interval)
	if err != nil {
		return nil, adapter.ValidationFailedf("dataConfig: %v", err).WithField("dataConfig.interval")
	}

	engine, err := uc.engines.Get(p.Config.Engine)
	if err != nil {
		return nil, err
	}
	if p.Data.DataPath == "" && uc.sources != nil && engine.Name() == backtest.EngineReference {
		src, err := uc.sources.Get(p.Data.Source)
		if err != nil {
			return nil, adapter.ValidationFailedf("dataConfig: %v", err).WithField("dataConfig.source")
		}
		if !src.Supports(models.DataBars) {
			return nil, adapter.ValidationFailedf("source %s does not provide bars", src.Name()).WithField("dataConfig.source")
		}
	}

	cfg := models.EngineConfig{
		InitialCapital: p.Config.InitialCapital,
		Venue:          p.Config.Venue,
		Engine:         engine.Name(),
	}
	if p.Config.CommissionRate != nil {
		cfg.CommissionRate = *p.Config.CommissionRate
	}
	if p.Config.SlippageBps != nil {
		cfg.SlippageBps = *p.Config.SlippageBps
	}
	if p.Config.Seed != nil {
		cfg.Seed = *p.Config.Seed
	}

	return &Prepared{
		Engine: engine,
		Request: &models.BacktestRequest{
			Strategy: strategy,
			Data: models.DataConfig{
				StartRaw:   p.Data.StartDate,
				EndRaw:     p.Data.EndDate,
				Start:      start,
				End:        end,
				Source:     p.Data.Source,
				Instrument: p.Data.Instrument,
				Interval:   interval,
				DataPath:   p.Data.DataPath,
			},
			Config: cfg,
		},
	}, nil
}

// Run executes one backtest.
func (uc *BacktestRunner) Run(ctx context.Context, p BacktestParams) (*models.Report, error) {
	prep, err := uc.Prepare(p)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	report, err := prep.Engine.Run(ctx, prep.Request, nil)
	if err != nil {
		return nil, fmt.Errorf("run %s engine: %w", prep.Engine.Name(), err)
	}
	if uc.metrics != nil {
		uc.metrics.RecordLatency("backtest", time.Since(start))
	}
	uc.l.Info("backtest complete",
		applogger.String("strategy", report.StrategyName),
		applogger.String("engine", prep.Engine.Name()),
		applogger.Int("trades", report.Performance.TotalTrades),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return report, nil
}

// Evaluator reruns prep with a different strategy document per call.
func (uc *BacktestRunner) Evaluator(prep *Prepared) optimize.Evaluator {
	return func(ctx context.Context, doc map[string]interface{}, progress repository.ProgressFunc) (*models.Report, error) {
		strategy, err := backtest.ParseStrategy(doc)
		if err != nil {
			return nil, err
		}
		req := *prep.Request
		req.Strategy = strategy
		return prep.Engine.Run(ctx, &req, progress)
	}
}
