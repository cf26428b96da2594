//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"hfttools/internal/domain/repository"
	pkgadapter "hfttools/pkg/adapter"
	"hfttools/pkg/config"
	applogger "hfttools/pkg/logger"
	"hfttools/pkg/metrics"
)

var metricsSet = wire.NewSet(
	ProvideMetrics,
	wire.Bind(new(repository.Metrics), new(*metrics.Recorder)),
)

var sourceSet = wire.NewSet(
	ProvideHTTPClient,
	ProvideRateLimiter,
	ProvideBinanceSource,
	ProvideCSVSource,
	ProvideSyntheticSource,
	ProvideSourceRegistry,
)

var backtestSet = wire.NewSet(
	sourceSet,
	ProvideClickHouseOpener,
	ProvideBarLoader,
	ProvideEngines,
	ProvideBacktestRunner,
)

var optimizerSet = wire.NewSet(
	backtestSet,
	ProvideStudyStore,
	ProvideEventPublisher,
	ProvideOptimizerSettings,
	ProvideOptimizer,
)

// InitializeBacktest wires the backtest runner adapter.
func InitializeBacktest(ctx context.Context, cfg *config.Config, l *applogger.Logger) (pkgadapter.Handler, func(), error) {
	wire.Build(metricsSet, backtestSet, ProvideBacktestHandler)
	return nil, nil, nil
}

// InitializeFetch wires the data fetcher adapter.
func InitializeFetch(ctx context.Context, cfg *config.Config, l *applogger.Logger) (pkgadapter.Handler, func(), error) {
	wire.Build(metricsSet, sourceSet, ProvideClickHouseOpener, ProvideSinks, ProvideDataFetcher, ProvideFetchHandler)
	return nil, nil, nil
}

// InitializeOptimize wires the optimizer adapter.
func InitializeOptimize(ctx context.Context, cfg *config.Config, l *applogger.Logger) (pkgadapter.Handler, func(), error) {
	wire.Build(metricsSet, optimizerSet, ProvideOptimizeHandler)
	return nil, nil, nil
}

// InitializeStudy wires the study continuation adapter.
func InitializeStudy(ctx context.Context, cfg *config.Config, l *applogger.Logger) (pkgadapter.Handler, func(), error) {
	wire.Build(metricsSet, optimizerSet, ProvideStudyContinuation, ProvideStudyHandler)
	return nil, nil, nil
}
