package repository

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/pkg/adapter"
	"hfttools/pkg/util"
)

// recordColumns is the CSV layout per data type.
var recordColumns = map[models.DataType][]string{
	models.DataBars:      {"timestamp", "seq", "instrument", "open", "high", "low", "close", "volume"},
	models.DataTrades:    {"timestamp", "seq", "instrument", "price", "size", "side"},
	models.DataQuotes:    {"timestamp", "seq", "instrument", "bid_price", "bid_size", "ask_price", "ask_size"},
	models.DataOrderbook: {"timestamp", "seq", "instrument", "level", "bid_price", "bid_size", "ask_price", "ask_size"},
}

// CSVSink upserts records into one CSV file. Rows whose key matches an
// incoming record are replaced, and the file is swapped in atomically.
type CSVSink struct {
	path string
}

// NewCSVSink creates a sink writing to path.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

// Write implements repository.RecordSink.
func (s *CSVSink) Write(ctx context.Context, dataType models.DataType, records []models.Record) (models.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return models.WriteResult{}, err
	}
	existing, err := s.readExisting(dataType)
	if err != nil {
		return models.WriteResult{}, err
	}

	merged := MergeRecords(existing, records)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.WriteResult{}, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return models.WriteResult{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriterSize(tmp, 256<<10)
	if err := WriteRecordsCSV(bw, dataType, merged); err != nil {
		_ = tmp.Close()
		return models.WriteResult{}, err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return models.WriteResult{}, fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return models.WriteResult{}, fmt.Errorf("sync csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return models.WriteResult{}, fmt.Errorf("close csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return models.WriteResult{}, fmt.Errorf("replace %s: %w", s.path, err)
	}

	fi, err := os.Stat(s.path)
	if err != nil {
		return models.WriteResult{}, fmt.Errorf("stat %s: %w", s.path, err)
	}
	return models.WriteResult{Location: s.path, RecordsTotal: len(merged), SizeBytes: fi.Size()}, nil
}

// Close implements repository.RecordSink.
func (s *CSVSink) Close() error { return nil }

// readExisting loads the rows already in the file. A file laid out for
// another data type is a Conflict rather than something to re-project.
func (s *CSVSink) readExisting(dataType models.DataType) ([]models.Record, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, adapter.Conflictf("output file %s cannot be merged: %v", s.path, err).WithField("outputPath")
	}
	if !sameColumns(header, recordColumns[dataType]) {
		return nil, adapter.Conflictf("output file %s holds columns %v, not %s records", s.path, header, dataType).WithField("outputPath")
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind %s: %w", s.path, err)
	}
	recs, err := ReadRecordsCSV(bufio.NewReaderSize(f, 256<<10), dataType)
	if err != nil {
		return nil, adapter.Conflictf("output file %s cannot be merged: %v", s.path, err).WithField("outputPath")
	}
	return recs, nil
}

func sameColumns(header, cols []string) bool {
	if len(header) != len(cols) {
		return false
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) != cols[i] {
			return false
		}
	}
	return true
}

// MergeRecords overlays incoming on existing by record key and returns the
// union in key order.
func MergeRecords(existing, incoming []models.Record) []models.Record {
	byKey := make(map[models.RecordKey]models.Record, len(existing)+len(incoming))
	for _, r := range existing {
		byKey[r.Key()] = r
	}
	for _, r := range incoming {
		byKey[r.Key()] = r
	}
	out := make([]models.Record, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// ReadRecordsFile loads a CSV written by CSVSink.
func ReadRecordsFile(path string, dataType models.DataType) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := ReadRecordsCSV(bufio.NewReaderSize(f, 256<<10), dataType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// WriteRecordsCSV writes a header and one row per record.
func WriteRecordsCSV(w io.Writer, dataType models.DataType, records []models.Record) error {
	cols, ok := recordColumns[dataType]
	if !ok {
		return fmt.Errorf("unsupported data type %q", dataType)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(cols))
	for _, r := range records {
		for i, c := range cols {
			row[i] = formatColumn(&r, c)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadRecordsCSV parses rows by header name. timestamp is required; every
// other column is optional and unknown columns are ignored.
func ReadRecordsCSV(r io.Reader, dataType models.DataType) ([]models.Record, error) {
	if _, ok := recordColumns[dataType]; !ok {
		return nil, fmt.Errorf("unsupported data type %q", dataType)
	}
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["timestamp"]; !ok {
		return nil, errors.New("missing timestamp column")
	}

	var out []models.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var rec models.Record
		for name, i := range idx {
			if i >= len(row) {
				continue
			}
			if err := parseColumn(&rec, name, strings.TrimSpace(row[i])); err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, name, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func formatColumn(r *models.Record, col string) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switch col {
	case "timestamp":
		return r.Timestamp.UTC().Format(time.RFC3339Nano)
	case "seq":
		return strconv.FormatInt(r.Seq, 10)
	case "instrument":
		return r.Instrument
	case "open":
		return f(r.Open)
	case "high":
		return f(r.High)
	case "low":
		return f(r.Low)
	case "close":
		return f(r.Close)
	case "volume":
		return f(r.Volume)
	case "price":
		return f(r.Price)
	case "size":
		return f(r.Size)
	case "side":
		return r.Side
	case "bid_price":
		return f(r.BidPrice)
	case "bid_size":
		return f(r.BidSize)
	case "ask_price":
		return f(r.AskPrice)
	case "ask_size":
		return f(r.AskSize)
	case "level":
		return strconv.Itoa(r.Level)
	}
	return ""
}

func parseColumn(r *models.Record, col, v string) error {
	if v == "" {
		return nil
	}
	var err error
	num := func(dst *float64) {
		*dst, err = strconv.ParseFloat(v, 64)
	}
	switch col {
	case "timestamp":
		t, ok := util.ParseTime(v)
		if !ok {
			return fmt.Errorf("invalid timestamp %q", v)
		}
		r.Timestamp = t.UTC()
	case "seq":
		r.Seq, err = strconv.ParseInt(v, 10, 64)
	case "instrument":
		r.Instrument = v
	case "open":
		num(&r.Open)
	case "high":
		num(&r.High)
	case "low":
		num(&r.Low)
	case "close":
		num(&r.Close)
	case "volume":
		num(&r.Volume)
	case "price":
		num(&r.Price)
	case "size":
		num(&r.Size)
	case "side":
		r.Side = v
	case "bid_price":
		num(&r.BidPrice)
	case "bid_size":
		num(&r.BidSize)
	case "ask_price":
		num(&r.AskPrice)
	case "ask_size":
		num(&r.AskSize)
	case "level":
		r.Level, err = strconv.Atoi(v)
	}
	return err
}
