package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"hfttools/internal/domain/models"
	"hfttools/internal/repository"
	"hfttools/pkg/adapter"
)

// CSVSource reads <dir>/<instrument>/<dataType>.csv files in the layout the
// CSV sink writes.
type CSVSource struct {
	dir string
}

// NewCSVSource creates a source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

func (s *CSVSource) Name() string { return SourceCSV }

func (s *CSVSource) Supports(t models.DataType) bool { return t.Valid() }

// Path returns the file holding instrument's dataType records.
func (s *CSVSource) Path(instrument string, t models.DataType) (string, error) {
	if instrument == "" || instrument == "." || instrument == ".." || strings.ContainsAny(instrument, `/\`) {
		return "", adapter.ValidationFailedf("instrument %q cannot name a data directory", instrument).WithField("instrument")
	}
	return filepath.Join(s.dir, instrument, string(t)+".csv"), nil
}

func (s *CSVSource) Fetch(ctx context.Context, req models.FetchRequest) ([]models.Record, error) {
	path, err := s.Path(req.Instrument, req.DataType)
	if err != nil {
		return nil, err
	}
	return ReadRange(ctx, path, req)
}

// ReadRange loads a CSV file and keeps the records inside [req.Start, req.End).
func ReadRange(ctx context.Context, path string, req models.FetchRequest) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := repository.ReadRecordsFile(path, req.DataType)
	if errors.Is(err, os.ErrNotExist) {
		return nil, adapter.NotFoundf("no %s data for %s at %s", req.DataType, req.Instrument, path)
	}
	if err != nil {
		return nil, adapter.ValidationFailedf("read %s: %v", path, err)
	}
	out := all[:0]
	for _, r := range all {
		if r.Timestamp.Before(req.Start) || !r.Timestamp.Before(req.End) {
			continue
		}
		if r.Instrument == "" {
			r.Instrument = req.Instrument
		}
		out = append(out, r)
	}
	return out, nil
}
