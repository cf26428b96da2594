package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/pkg/adapter"
	pkgch "hfttools/pkg/clickhouse"
	applogger "hfttools/pkg/logger"
)

// ClickHouseScheme prefixes output paths that target a ClickHouse table.
const ClickHouseScheme = "clickhouse://"

const chInsertChunk = 10000

// ParseClickHouseLocation splits "clickhouse://db.table". ok is false when
// loc does not use the scheme.
func ParseClickHouseLocation(loc string) (database, table string, ok bool, err error) {
	if !strings.HasPrefix(loc, ClickHouseScheme) {
		return "", "", false, nil
	}
	rest := strings.TrimPrefix(loc, ClickHouseScheme)
	database, table, found := strings.Cut(rest, ".")
	if !found || !pkgch.ValidIdent(database) || !pkgch.ValidIdent(table) {
		return "", "", true, fmt.Errorf("clickhouse location must look like clickhouse://database.table, got %q", loc)
	}
	return database, table, true, nil
}

// ClickHouseStore keeps records of every data type in one ReplacingMergeTree
// table. Re-inserting a key replaces the row on merge; reads use FINAL.
type ClickHouseStore struct {
	ch       *pkgch.Client
	database string
	table    string
	l        *applogger.Logger
}

// NewClickHouseStore binds a store to database.table.
func NewClickHouseStore(ch *pkgch.Client, database, table string, l *applogger.Logger) (*ClickHouseStore, error) {
	if !pkgch.ValidIdent(database) || !pkgch.ValidIdent(table) {
		return nil, fmt.Errorf("invalid clickhouse table %s.%s", database, table)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseStore{ch: ch, database: database, table: table, l: l}, nil
}

// Location renders the store as an output path.
func (s *ClickHouseStore) Location() string {
	return ClickHouseScheme + s.database + "." + s.table
}

func (s *ClickHouseStore) qualified() string {
	return s.database + "." + s.table
}

// SchemaStatements returns the idempotent DDL for the store.
func (s *ClickHouseStore) SchemaStatements() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    data_type   LowCardinality(String),
    instrument  LowCardinality(String),
    ts          DateTime64(9, 'UTC'),
    seq         Int64,
    level       Int32,
    open        Float64,
    high        Float64,
    low         Float64,
    close       Float64,
    volume      Float64,
    price       Float64,
    size        Float64,
    side        LowCardinality(String),
    bid_price   Float64,
    bid_size    Float64,
    ask_price   Float64,
    ask_size    Float64,
    inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(inserted_at)
ORDER BY (data_type, instrument, ts, seq, level)`, s.qualified()),
	}
}

// Write implements repository.RecordSink.
func (s *ClickHouseStore) Write(ctx context.Context, dataType models.DataType, records []models.Record) (models.WriteResult, error) {
	start := time.Now()
	if err := s.ch.InitSchema(ctx, s.SchemaStatements()); err != nil {
		return models.WriteResult{}, adapter.Unavailable(err, "clickhouse schema")
	}

	q := fmt.Sprintf(`INSERT INTO %s (data_type, instrument, ts, seq, level, open, high, low, close, volume,
    price, size, side, bid_price, bid_size, ask_price, ask_size) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.qualified())
	for lo := 0; lo < len(records); lo += chInsertChunk {
		hi := min(lo+chInsertChunk, len(records))
		rows := make([][]any, 0, hi-lo)
		for _, r := range records[lo:hi] {
			rows = append(rows, recordRow(dataType, r))
		}
		if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
			s.l.Error("clickhouse insert error",
				applogger.String("table", s.qualified()),
				applogger.Int("rows", len(rows)),
				applogger.Error(err),
			)
			return models.WriteResult{}, adapter.Unavailable(err, "clickhouse insert")
		}
	}

	instrument := ""
	if len(records) > 0 {
		instrument = records[0].Instrument
	}
	var total uint64
	countQ := fmt.Sprintf("SELECT count() FROM %s FINAL WHERE data_type = ? AND instrument = ?", s.qualified())
	if err := s.ch.DB().QueryRowContext(ctx, countQ, string(dataType), instrument).Scan(&total); err != nil {
		return models.WriteResult{}, adapter.Unavailable(err, "clickhouse count")
	}

	var size sql.NullInt64
	sizeQ := "SELECT toInt64(sum(bytes_on_disk)) FROM system.parts WHERE database = ? AND table = ? AND active"
	if err := s.ch.DB().QueryRowContext(ctx, sizeQ, s.database, s.table).Scan(&size); err != nil {
		s.l.Warn("clickhouse size query failed", applogger.String("table", s.qualified()), applogger.Error(err))
	}

	s.l.Info("clickhouse write ok",
		applogger.String("table", s.qualified()),
		applogger.String("data_type", string(dataType)),
		applogger.Int("rows", len(records)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return models.WriteResult{Location: s.Location(), RecordsTotal: int(total), SizeBytes: size.Int64}, nil
}

// ReadBars returns bars of instrument in [from, to) in time order.
func (s *ClickHouseStore) ReadBars(ctx context.Context, instrument string, from, to time.Time) ([]models.Record, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT ts, seq, instrument, open, high, low, close, volume
        FROM %s FINAL
        WHERE data_type = ? AND instrument = ? AND ts >= ? AND ts < ?
        ORDER BY ts ASC, seq ASC
    `, s.qualified())
	rows, err := s.ch.DB().QueryContext(ctx, q, string(models.DataBars), instrument, from, to)
	if err != nil {
		s.l.Error("clickhouse read_bars query error",
			applogger.String("table", s.qualified()),
			applogger.String("instrument", instrument),
			applogger.Error(err),
		)
		return nil, adapter.Unavailable(err, "clickhouse read bars")
	}
	defer rows.Close()

	out := make([]models.Record, 0, 1024)
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.Timestamp, &r.Seq, &r.Instrument, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse read_bars ok",
		applogger.String("table", s.qualified()),
		applogger.String("instrument", instrument),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// Close implements repository.RecordSink and releases the client.
func (s *ClickHouseStore) Close() error {
	if s.ch == nil {
		return nil
	}
	return s.ch.Close()
}

func recordRow(dataType models.DataType, r models.Record) []any {
	return []any{
		string(dataType), r.Instrument, r.Timestamp.UTC(), r.Seq, int32(r.Level),
		r.Open, r.High, r.Low, r.Close, r.Volume,
		r.Price, r.Size, r.Side,
		r.BidPrice, r.BidSize, r.AskPrice, r.AskSize,
	}
}
