package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/internal/service/marketdata"
	"hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
	"hfttools/pkg/util"
)

// FetchParams is a decoded data fetch request.
type FetchParams struct {
	Source     string
	Instrument string
	DataType   string
	StartDate  string
	EndDate    string
	OutputPath string
	Interval   string
	Seed       int64
}

// DataFetcher retrieves one market data stream, profiles it and stores it.
type DataFetcher struct {
	sources *marketdata.Registry
	sinks   *marketdata.Sinks
	metrics repository.Metrics
	l       *applogger.Logger
}

// NewDataFetcher creates the fetcher. m may be nil.
func NewDataFetcher(sources *marketdata.Registry, sinks *marketdata.Sinks, m repository.Metrics, l *applogger.Logger) *DataFetcher {
	if l == nil {
		l = applogger.Nop()
	}
	return &DataFetcher{sources: sources, sinks: sinks, metrics: m, l: l}
}

func (uc *DataFetcher) validate(p FetchParams) (repository.MarketDataSource, models.FetchRequest, error) {
	req := models.FetchRequest{Source: p.Source, Instrument: p.Instrument, DataType: models.DataType(p.DataType), Seed: p.Seed}

	src, err := uc.sources.Get(p.Source)
	if err != nil {
		return nil, req, err
	}
	if !req.DataType.Valid() {
		return nil, req, adapter.ValidationFailedf("unknown dataType %q (known: trades, orderbook, quotes, bars)", p.DataType).WithField("dataType")
	}
	if !src.Supports(req.DataType) {
		return nil, req, adapter.ValidationFailedf("source %s does not provide %s data", src.Name(), req.DataType).WithField("dataType")
	}
	start, end, err := util.ParseRange(p.StartDate, p.EndDate)
	if err != nil {
		return nil, req, adapter.ValidationFailedf("%v", err).WithField("endDate")
	}
	req.Start, req.End = start, end
	if req.DataType == models.DataBars {
		iv, err := util.ParseInterval(p.Interval)
		if err != nil {
			return nil, req, adapter.ValidationFailedf("%v", err).WithField("interval")
		}
		req.Interval = iv
	}
	if err := uc.sinks.Validate(p.OutputPath); err != nil {
		return nil, req, err
	}
	return src, req, nil
}

// Fetch validates p, fetches, cleans and upserts the records.
func (uc *DataFetcher) Fetch(ctx context.Context, p FetchParams) (*models.FetchReport, error) {
	src, req, err := uc.validate(p)
	if err != nil {
		return nil, err
	}

	sink, err := uc.sinks.Open(ctx, p.OutputPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			uc.l.Warn("close sink failed", applogger.Error(cerr))
		}
	}()

	start := time.Now()
	raw, err := src.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s from %s: %w", req.Instrument, req.DataType, src.Name(), err)
	}
	clean, quality, summary := marketdata.Clean(raw, req.DataType, req.Interval)

	res, err := sink.Write(ctx, req.DataType, clean)
	if err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}

	if uc.metrics != nil {
		uc.metrics.RecordRecords(src.Name(), string(req.DataType), len(clean))
		uc.metrics.RecordLatency("fetch", time.Since(start))
	}
	uc.l.Info("data fetched",
		applogger.String("source", src.Name()),
		applogger.String("instrument", req.Instrument),
		applogger.String("data_type", string(req.DataType)),
		applogger.Int("fetched", len(raw)),
		applogger.Int("stored", res.RecordsTotal),
		applogger.String("output", res.Location),
		applogger.Duration("duration_ms", time.Since(start)),
	)

	return &models.FetchReport{
		Status:       adapter.StatusSuccess,
		Source:       p.Source,
		Instrument:   p.Instrument,
		DataType:     p.DataType,
		Period:       models.Period{Start: p.StartDate, End: p.EndDate},
		RecordsCount: res.RecordsTotal,
		FileSizeMB:   math.Round(float64(res.SizeBytes)/(1<<20)*1e4) / 1e4,
		OutputPath:   res.Location,
		DataQuality:  quality,
		Summary:      summary,
	}, nil
}
