package repository

import (
	"context"
	"errors"
	"time"

	"hfttools/internal/domain/models"
)

var (
	// ErrStudyNotFound is returned by StudyStore.Load for unknown names.
	ErrStudyNotFound = errors.New("study not found")
	// ErrStudyLocked is returned by StudyStore.Lock when another writer holds it.
	ErrStudyLocked = errors.New("study is locked by another writer")
	// ErrStudyLockLost is returned by StudyLease.Refresh once the lock lapsed.
	ErrStudyLockLost = errors.New("study lock lapsed")
)

// ProgressFunc observes a running backtest once per reporting step with the
// objective-ready metrics of the partial run. Returning false stops the run.
type ProgressFunc func(step int, metrics func(name string) (float64, bool)) bool

// BacktestEngine runs one simulation and produces its report.
type BacktestEngine interface {
	Name() string
	Run(ctx context.Context, req *models.BacktestRequest, progress ProgressFunc) (*models.Report, error)
}

// MarketDataSource retrieves historical records for one stream.
type MarketDataSource interface {
	Name() string
	Supports(t models.DataType) bool
	Fetch(ctx context.Context, req models.FetchRequest) ([]models.Record, error)
}

// RecordSink persists cleaned records. Writes are upserts keyed by
// Record.Key, so repeating a write never duplicates rows.
type RecordSink interface {
	Write(ctx context.Context, dataType models.DataType, records []models.Record) (models.WriteResult, error)
	Close() error
}

// StudyStore persists studies between processes.
type StudyStore interface {
	Load(ctx context.Context, name string) (*models.Study, error)
	Save(ctx context.Context, study *models.Study) error
	Exists(ctx context.Context, name string) (bool, error)
	// Lock serialises writers of one study.
	Lock(ctx context.Context, name string) (StudyLease, error)
}

// StudyLease is a held study lock. Holders refresh it more often than the
// store's lock TTL.
type StudyLease interface {
	Refresh(ctx context.Context) error
	Release()
}

// TrialSampler proposes the next assignment. history holds every trial
// recorded so far; ok is false once the space has no unseen assignment left.
type TrialSampler interface {
	Name() string
	Suggest(space models.SearchSpace, history []models.Trial, number int) (params models.Params, ok bool, err error)
}

// Pruner decides whether a running trial should stop at step.
type Pruner interface {
	Name() string
	ShouldPrune(number, step int, value float64, history []models.Trial) bool
}

// EventPublisher emits trial events for downstream consumers.
type EventPublisher interface {
	PublishTrial(ctx context.Context, ev models.TrialEvent) error
	Close() error
}

// Metrics records adapter-level counters.
type Metrics interface {
	RecordRequest(adapter, result string)
	RecordTrial(study, state string)
	RecordRecords(source, dataType string, n int)
	RecordBars(n int)
	RecordBestValue(study, metric string, v float64)
	RecordLatency(op string, d time.Duration)
	Push(ctx context.Context, grouping map[string]string) error
}
