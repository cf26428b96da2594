package di

import (
	"context"
	"fmt"
	"time"

	"hfttools/internal/domain/repository"
	hadapter "hfttools/internal/handler/adapter"
	internalrepo "hfttools/internal/repository"
	"hfttools/internal/service/marketdata"
	"hfttools/internal/service/ratelimit"
	"hfttools/internal/services/backtest"
	"hfttools/internal/services/optimize"
	"hfttools/internal/usecase"
	pkgadapter "hfttools/pkg/adapter"
	"hfttools/pkg/cache"
	pkgch "hfttools/pkg/clickhouse"
	"hfttools/pkg/config"
	pkghttp "hfttools/pkg/http"
	pkgkafka "hfttools/pkg/kafka"
	applogger "hfttools/pkg/logger"
	"hfttools/pkg/metrics"
)

const (
	barCacheEntries = 16
	barCacheTTL     = 10 * time.Minute
)

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) *metrics.Recorder {
	if cfg.Metrics.PushgatewayURL == "" {
		return metrics.New()
	}
	return metrics.New(metrics.WithPushgateway(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job))
}

// ProvideClickHouseOpener returns a lazy ClickHouse connector, or nil when no
// host is configured. Adapters only connect when a request names a
// clickhouse:// location.
func ProvideClickHouseOpener(cfg *config.Config, l *applogger.Logger) marketdata.ClickHouseOpener {
	ch := cfg.Data.ClickHouse
	if ch.Host == "" {
		return nil
	}
	return func(ctx context.Context, database, table string) (*internalrepo.ClickHouseStore, error) {
		client, err := pkgch.NewClient(ctx,
			pkgch.WithAddr(ch.Host, ch.Port),
			pkgch.WithDatabase(database),
			pkgch.WithCredentials(ch.User, ch.Password),
			pkgch.WithHTTP(ch.UseHTTP),
			pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
			pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store, err := internalrepo.NewClickHouseStore(client, database, table, l)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil
	}
}

// ProvideHTTPClient creates the HTTP client used by remote sources.
func ProvideHTTPClient(cfg *config.Config) *pkghttp.Client {
	return pkghttp.NewClient(pkghttp.WithTimeout(cfg.Data.Binance.Timeout))
}

// ProvideRateLimiter creates the limiter shared by remote sources.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideBinanceSource creates the Binance REST source.
func ProvideBinanceSource(cfg *config.Config, client *pkghttp.Client, rl *ratelimit.Limiter, l *applogger.Logger) *marketdata.BinanceSource {
	b := cfg.Data.Binance
	return marketdata.NewBinanceSource(client, b.BaseURL,
		pkghttp.Backoff{Min: b.BackoffMin, Max: b.BackoffMax, MaxRetries: b.MaxRetries},
		marketdata.WithBinanceLimiter(rl),
		marketdata.WithBinancePageLimit(b.PageLimit),
		marketdata.WithBinanceLogger(l),
	)
}

// ProvideCSVSource creates the local CSV source.
func ProvideCSVSource(cfg *config.Config) *marketdata.CSVSource {
	return marketdata.NewCSVSource(cfg.Data.CSVDir)
}

// ProvideSyntheticSource creates the generator source.
func ProvideSyntheticSource() *marketdata.SyntheticSource {
	return marketdata.NewSyntheticSource(0)
}

// ProvideSourceRegistry registers every market data source.
func ProvideSourceRegistry(syn *marketdata.SyntheticSource, csv *marketdata.CSVSource, bin *marketdata.BinanceSource) *marketdata.Registry {
	return marketdata.NewRegistry(syn, csv, bin)
}

// ProvideSinks creates the record sink factory.
func ProvideSinks(open marketdata.ClickHouseOpener) *marketdata.Sinks {
	return marketdata.NewSinks(open)
}

// ProvideBarLoader creates the cached bar loader used by the reference engine.
func ProvideBarLoader(sources *marketdata.Registry, open marketdata.ClickHouseOpener, l *applogger.Logger) *marketdata.BarLoader {
	opts := []marketdata.LoaderOption{
		marketdata.WithBarCache(barCacheEntries, barCacheTTL),
		marketdata.WithLoaderLogger(l),
	}
	if open != nil {
		opts = append(opts, marketdata.WithClickHouse(open))
	}
	return marketdata.NewBarLoader(sources, opts...)
}

// ProvideEngines registers the reference engine and, when configured, the
// exec engine.
func ProvideEngines(cfg *config.Config, loader *marketdata.BarLoader, m repository.Metrics, l *applogger.Logger) *backtest.Engines {
	engines := []repository.BacktestEngine{
		backtest.NewReferenceEngine(loader, backtest.WithLogger(l), backtest.WithMetrics(m)),
	}
	if ex := cfg.Engine.Exec; ex.Command != "" {
		engines = append(engines, backtest.NewExecEngine(ex.Command, ex.Args, ex.Timeout, l))
	}
	return backtest.NewEngines(cfg.Engine.Default, engines...)
}

// ProvideBacktestRunner creates the backtest use case.
func ProvideBacktestRunner(engines *backtest.Engines, sources *marketdata.Registry, m repository.Metrics, l *applogger.Logger) *usecase.BacktestRunner {
	return usecase.NewBacktestRunner(engines, sources, m, l)
}

// ProvideDataFetcher creates the data fetch use case.
func ProvideDataFetcher(sources *marketdata.Registry, sinks *marketdata.Sinks, m repository.Metrics, l *applogger.Logger) *usecase.DataFetcher {
	return usecase.NewDataFetcher(sources, sinks, m, l)
}

// ProvideStudyStore opens the configured study backend.
func ProvideStudyStore(ctx context.Context, cfg *config.Config) (repository.StudyStore, func(), error) {
	st := cfg.Study
	switch st.Backend {
	case "redis":
		c, err := cache.NewRedisCache(ctx,
			cache.WithRedisAddr(st.Redis.Host, st.Redis.Port),
			cache.WithRedisAuth(st.Redis.Password, st.Redis.DB),
			cache.WithRedisDialTimeout(st.Redis.DialTimeout),
			cache.WithRedisPrefix(st.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, pkgadapter.Unavailable(err, "study store")
		}
		return internalrepo.NewCacheStudyStore(c, st.LockTTL), func() { _ = c.Close() }, nil
	case "memory":
		c := cache.NewMemoryCache()
		return internalrepo.NewCacheStudyStore(c, st.LockTTL), func() { _ = c.Close() }, nil
	default:
		return internalrepo.NewFileStudyStore(st.Dir, st.LockTTL), func() {}, nil
	}
}

// ProvideEventPublisher creates the Kafka trial publisher, or a no-op one
// when no brokers are configured.
func ProvideEventPublisher(cfg *config.Config, rec *metrics.Recorder, l *applogger.Logger) (repository.EventPublisher, func(), error) {
	k := cfg.Events.Kafka
	if len(k.Brokers) == 0 {
		return internalrepo.NopPublisher{}, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithTopic(k.Topic),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.MaxAttempts),
		pkgkafka.WithTimeouts(k.WriteTimeout, k.WriteTimeout),
		pkgkafka.WithRegisterer(rec.Registerer()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaPublisher(producer, k.Topic)
	cleanup := func() {
		if err := pub.Close(); err != nil {
			l.Warn("kafka producer close failed", applogger.Error(err))
		}
	}
	return pub, cleanup, nil
}

// ProvideOptimizerSettings maps optimizer config to sampler/pruner settings.
func ProvideOptimizerSettings(cfg *config.Config) optimize.Settings {
	o := cfg.Optimizer
	return optimize.Settings{
		TPEStartupTrials:  o.TPEStartupTrials,
		TPEGamma:          o.TPEGamma,
		TPECandidates:     o.TPECandidates,
		MedianStartup:     o.MedianStartup,
		MedianWarmupSteps: o.MedianWarmup,
		HyperbandEta:      o.HyperbandEta,
		HyperbandMinStep:  o.HyperbandMinStep,
	}
}

// ProvideOptimizer creates the optimizer use case.
func ProvideOptimizer(
	cfg *config.Config,
	settings optimize.Settings,
	runner *usecase.BacktestRunner,
	store repository.StudyStore,
	pub repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Optimizer {
	return usecase.NewOptimizer(runner, store,
		usecase.WithSettings(settings),
		usecase.WithMaxTrials(cfg.Optimizer.MaxTrials),
		usecase.WithEvents(pub),
		usecase.WithOptimizerMetrics(m),
		usecase.WithOptimizerLogger(l),
	)
}

// ProvideStudyContinuation creates the continuation use case.
func ProvideStudyContinuation(opt *usecase.Optimizer) *usecase.StudyContinuation {
	return usecase.NewStudyContinuation(opt)
}

// ProvideBacktestHandler creates the instrumented backtest handler.
func ProvideBacktestHandler(uc *usecase.BacktestRunner, m repository.Metrics, l *applogger.Logger) pkgadapter.Handler {
	return hadapter.NewInstrumented(hadapter.NameBacktest, hadapter.NewBacktestHandler(uc, l), m, l)
}

// ProvideFetchHandler creates the instrumented fetch handler.
func ProvideFetchHandler(uc *usecase.DataFetcher, m repository.Metrics, l *applogger.Logger) pkgadapter.Handler {
	return hadapter.NewInstrumented(hadapter.NameFetch, hadapter.NewFetchHandler(uc, l), m, l)
}

// ProvideOptimizeHandler creates the instrumented optimizer handler.
func ProvideOptimizeHandler(uc *usecase.Optimizer, m repository.Metrics, l *applogger.Logger) pkgadapter.Handler {
	return hadapter.NewInstrumented(hadapter.NameOptimize, hadapter.NewOptimizeHandler(uc, l), m, l)
}

// ProvideStudyHandler creates the instrumented continuation handler.
func ProvideStudyHandler(uc *usecase.StudyContinuation, m repository.Metrics, l *applogger.Logger) pkgadapter.Handler {
	return hadapter.NewInstrumented(hadapter.NameStudy, hadapter.NewStudyHandler(uc, l), m, l)
}
