package adapter

import (
	"context"
	"encoding/json"

	"hfttools/internal/usecase"
	pkgadapter "hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
)

// Adapter names, used for logs and metrics labels.
const (
	NameBacktest = "backtest"
	NameFetch    = "fetch-data"
	NameOptimize = "optimize"
	NameStudy    = "study"
)

// BacktestHandler translates backtest documents to BacktestRunner calls.
type BacktestHandler struct {
	uc *usecase.BacktestRunner
	l  *applogger.Logger
}

func NewBacktestHandler(uc *usecase.BacktestRunner, l *applogger.Logger) *BacktestHandler {
	return &BacktestHandler{uc: uc, l: orNop(l)}
}

func (h *BacktestHandler) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req BacktestRequest
	if err := pkgadapter.Decode(payload, &req); err != nil {
		return nil, err
	}
	h.l.Debug("backtest request",
		applogger.String("source", req.DataConfig.Source),
		applogger.String("instrument", req.DataConfig.Instrument),
		applogger.String("start", req.DataConfig.StartDate),
		applogger.String("end", req.DataConfig.EndDate),
	)
	return h.uc.Run(ctx, usecase.BacktestParams{
		Strategy: req.Strategy,
		Data:     req.DataConfig,
		Config:   req.Config,
	})
}

// FetchHandler translates fetch documents to DataFetcher calls.
type FetchHandler struct {
	uc *usecase.DataFetcher
	l  *applogger.Logger
}

func NewFetchHandler(uc *usecase.DataFetcher, l *applogger.Logger) *FetchHandler {
	return &FetchHandler{uc: uc, l: orNop(l)}
}

func (h *FetchHandler) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req FetchRequest
	if err := pkgadapter.Decode(payload, &req); err != nil {
		return nil, err
	}
	return h.uc.Fetch(ctx, usecase.FetchParams{
		Source:     req.Source,
		Instrument: req.Instrument,
		DataType:   req.DataType,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		OutputPath: req.OutputPath,
		Interval:   req.Interval,
		Seed:       *req.Seed,
	})
}

// OptimizeHandler translates optimizer documents to Optimizer calls.
type OptimizeHandler struct {
	uc *usecase.Optimizer
	l  *applogger.Logger
}

func NewOptimizeHandler(uc *usecase.Optimizer, l *applogger.Logger) *OptimizeHandler {
	return &OptimizeHandler{uc: uc, l: orNop(l)}
}

func (h *OptimizeHandler) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req OptimizeRequest
	if err := pkgadapter.Decode(payload, &req); err != nil {
		return nil, err
	}
	bt := req.BacktestConfig
	if bt == nil {
		bt = &usecase.BacktestConfigInput{
			DataConfig: usecase.DataInput{StartDate: DefaultOptimizeStart, EndDate: DefaultOptimizeEnd},
		}
		h.l.Debug("no backtestConfig, using default period",
			applogger.String("start", DefaultOptimizeStart),
			applogger.String("end", DefaultOptimizeEnd),
		)
	}
	if err := pkgadapter.Complete("backtestConfig", bt); err != nil {
		return nil, err
	}
	return h.uc.Optimize(ctx, usecase.OptimizeParams{
		Strategy:    req.Strategy,
		SearchSpace: req.SearchSpace,
		NTrials:     *req.NTrials,
		StudyName:   req.StudyName,
		Sampler:     req.Sampler,
		Pruner:      req.Pruner,
		Backtest:    *bt,
		Seed:        *req.Seed,
	})
}

// StudyHandler translates continuation documents to StudyContinuation calls.
type StudyHandler struct {
	uc *usecase.StudyContinuation
	l  *applogger.Logger
}

func NewStudyHandler(uc *usecase.StudyContinuation, l *applogger.Logger) *StudyHandler {
	return &StudyHandler{uc: uc, l: orNop(l)}
}

func (h *StudyHandler) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ContinueRequest
	if err := pkgadapter.Decode(payload, &req); err != nil {
		return nil, err
	}
	return h.uc.Continue(ctx, usecase.ContinueParams{
		Action:    req.Action,
		StudyName: req.StudyName,
		NTrials:   *req.NTrials,
	})
}

func orNop(l *applogger.Logger) *applogger.Logger {
	if l == nil {
		return applogger.Nop()
	}
	return l
}
