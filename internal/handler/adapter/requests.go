package adapter

import "hfttools/internal/usecase"

// BacktestRequest is the backtest runner input document.
type BacktestRequest struct {
	Strategy   map[string]interface{} `json:"strategy" validate:"required"`
	DataConfig usecase.DataInput      `json:"dataConfig"`
	Config     usecase.EngineInput    `json:"config"`
}

// FetchRequest is the data fetcher input document.
type FetchRequest struct {
	Source     string `json:"source" validate:"required"`
	Instrument string `json:"instrument" validate:"required"`
	DataType   string `json:"dataType" validate:"required"`
	StartDate  string `json:"startDate" validate:"required,date"`
	EndDate    string `json:"endDate" validate:"required,date"`
	OutputPath string `json:"outputPath,omitempty"`
	Interval   string `json:"interval" default:"1m"`
	Seed       *int64 `json:"seed" default:"42"`
}

// OptimizeRequest is the optimizer input document. backtestConfig is
// completed separately so an absent block can get a default period.
type OptimizeRequest struct {
	Strategy       map[string]interface{}       `json:"strategy" validate:"required"`
	SearchSpace    map[string]interface{}       `json:"searchSpace" validate:"required"`
	NTrials        *int                         `json:"nTrials" default:"100"`
	StudyName      string                       `json:"studyName,omitempty"`
	Sampler        string                       `json:"sampler" default:"TPE"`
	Pruner         string                       `json:"pruner" default:"Hyperband"`
	BacktestConfig *usecase.BacktestConfigInput `json:"backtestConfig,omitempty" default:"-" validate:"-"`
	Seed           *int64                       `json:"seed" default:"42"`
}

// ContinueRequest is the study continuation input document.
type ContinueRequest struct {
	Action    string `json:"action" default:"continue"`
	StudyName string `json:"studyName" validate:"required"`
	NTrials   *int   `json:"nTrials" default:"50"`
}

// Period used when an optimizer request carries no backtestConfig.
const (
	DefaultOptimizeStart = "2024-01-01"
	DefaultOptimizeEnd   = "2024-01-31"
)
