package marketdata

import (
	"context"
	"fmt"
	"time"

	"hfttools/internal/domain/models"
	repo "hfttools/internal/repository"
	"hfttools/internal/service/cache"
	"hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
)

type loadedBars struct {
	bars      []models.Record
	simulated bool
}

// BarLoader resolves the bars of a backtest: an explicit dataPath (CSV file
// or clickhouse://db.table) wins over the named source. Results are memoised
// so repeated backtests over one range load it once.
type BarLoader struct {
	sources  *Registry
	openCH   ClickHouseOpener
	cache    *cache.TTLCache[loadedBars]
	cacheTTL time.Duration
	l        *applogger.Logger
}

// LoaderOption configures BarLoader.
type LoaderOption func(*BarLoader)

// WithClickHouse enables clickhouse:// data paths.
func WithClickHouse(open ClickHouseOpener) LoaderOption {
	return func(b *BarLoader) {
		b.openCH = open
	}
}

// WithBarCache keeps up to entries loaded ranges for ttl.
func WithBarCache(entries int, ttl time.Duration) LoaderOption {
	return func(b *BarLoader) {
		b.cache = cache.NewTTLCache[loadedBars](entries)
		b.cacheTTL = ttl
	}
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(l *applogger.Logger) LoaderOption {
	return func(b *BarLoader) {
		b.l = l
	}
}

// NewBarLoader creates a loader over sources.
func NewBarLoader(sources *Registry, opts ...LoaderOption) *BarLoader {
	b := &BarLoader{sources: sources, l: applogger.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LoadBars implements backtest.BarLoader.
func (b *BarLoader) LoadBars(ctx context.Context, cfg models.DataConfig, seed int64) ([]models.Record, bool, error) {
	key := fmt.Sprintf("%s|%s|%d|%d|%d|%s|%d", cfg.Source, cfg.Instrument, cfg.Interval,
		cfg.Start.UnixNano(), cfg.End.UnixNano(), cfg.DataPath, seed)
	if b.cache != nil {
		if hit, ok := b.cache.Get(key); ok {
			return hit.bars, hit.simulated, nil
		}
	}

	start := time.Now()
	raw, simulated, err := b.load(ctx, cfg, seed)
	if err != nil {
		return nil, false, err
	}
	clean, quality, _ := Clean(raw, models.DataBars, cfg.Interval)
	bars := clean[:0]
	for _, r := range clean {
		if r.Close > 0 && r.High >= r.Low {
			bars = append(bars, r)
		}
	}
	b.l.Debug("bars loaded",
		applogger.String("source", cfg.Source),
		applogger.String("instrument", cfg.Instrument),
		applogger.Int("bars", len(bars)),
		applogger.Int("duplicates", quality.DuplicatesRemoved),
		applogger.Int("anomalies", quality.Anomalies),
		applogger.Duration("duration_ms", time.Since(start)),
	)

	if b.cache != nil {
		b.cache.Set(key, loadedBars{bars: bars, simulated: simulated}, b.cacheTTL)
	}
	return bars, simulated, nil
}

func (b *BarLoader) load(ctx context.Context, cfg models.DataConfig, seed int64) ([]models.Record, bool, error) {
	req := models.FetchRequest{
		Source:     cfg.Source,
		Instrument: cfg.Instrument,
		DataType:   models.DataBars,
		Start:      cfg.Start,
		End:        cfg.End,
		Interval:   cfg.Interval,
		Seed:       seed,
	}

	if cfg.DataPath != "" {
		db, table, isCH, err := repo.ParseClickHouseLocation(cfg.DataPath)
		if err != nil {
			return nil, false, adapter.ValidationFailedf("%v", err).WithField("dataConfig.dataPath")
		}
		if !isCH {
			bars, err := ReadRange(ctx, cfg.DataPath, req)
			return bars, false, err
		}
		if b.openCH == nil {
			return nil, false, adapter.ValidationFailedf("clickhouse data paths are not configured").WithField("dataConfig.dataPath")
		}
		store, err := b.openCH(ctx, db, table)
		if err != nil {
			return nil, false, adapter.Unavailable(err, "open clickhouse bars")
		}
		defer store.Close()
		bars, err := store.ReadBars(ctx, cfg.Instrument, cfg.Start, cfg.End)
		return bars, false, err
	}

	src, err := b.sources.Get(cfg.Source)
	if err != nil {
		return nil, false, err
	}
	if !src.Supports(models.DataBars) {
		return nil, false, adapter.ValidationFailedf("source %s does not provide bars", src.Name()).WithField("dataConfig.source")
	}
	bars, err := src.Fetch(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return bars, src.Name() == SourceSynthetic, nil
}
