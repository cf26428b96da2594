package marketdata

import (
	"context"
	"os"
	"strings"

	"hfttools/internal/domain/repository"
	repo "hfttools/internal/repository"
	"hfttools/pkg/adapter"
)

// ClickHouseOpener connects to database.table on demand. The returned store
// owns its connection.
type ClickHouseOpener func(ctx context.Context, database, table string) (*repo.ClickHouseStore, error)

// Sinks maps an output path to a record sink: empty means memory,
// clickhouse://db.table means ClickHouse, anything else is a CSV file.
type Sinks struct {
	openCH ClickHouseOpener
}

// NewSinks creates a sink factory. openCH may be nil when ClickHouse is not
// available.
func NewSinks(openCH ClickHouseOpener) *Sinks {
	return &Sinks{openCH: openCH}
}

// Validate checks an output path without touching external systems.
func (s *Sinks) Validate(outputPath string) error {
	if outputPath == "" {
		return nil
	}
	_, _, isCH, err := repo.ParseClickHouseLocation(outputPath)
	if err != nil {
		return adapter.ValidationFailedf("%v", err).WithField("outputPath")
	}
	if isCH {
		if s.openCH == nil {
			return adapter.ValidationFailedf("clickhouse output is not configured").WithField("outputPath")
		}
		return nil
	}
	if strings.HasSuffix(outputPath, "/") {
		return adapter.ValidationFailedf("outputPath %q names a directory, want a file", outputPath).WithField("outputPath")
	}
	if fi, err := os.Stat(outputPath); err == nil && fi.IsDir() {
		return adapter.ValidationFailedf("outputPath %q is a directory, want a file", outputPath).WithField("outputPath")
	}
	return nil
}

// Open returns the sink for outputPath.
func (s *Sinks) Open(ctx context.Context, outputPath string) (repository.RecordSink, error) {
	if err := s.Validate(outputPath); err != nil {
		return nil, err
	}
	if outputPath == "" {
		return repo.NewMemorySink(), nil
	}
	db, table, isCH, _ := repo.ParseClickHouseLocation(outputPath)
	if isCH {
		store, err := s.openCH(ctx, db, table)
		if err != nil {
			return nil, adapter.Unavailable(err, "open clickhouse output")
		}
		return store, nil
	}
	return repo.NewCSVSink(outputPath), nil
}
