package models

import (
	"time"
)

// DataType names a market data stream.
type DataType string

const (
	DataTrades    DataType = "trades"
	DataOrderbook DataType = "orderbook"
	DataQuotes    DataType = "quotes"
	DataBars      DataType = "bars"
)

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	switch t {
	case DataTrades, DataOrderbook, DataQuotes, DataBars:
		return true
	default:
		return false
	}
}

// Record is one market data row. Columns that do not apply to the data type
// stay zero: bars use OHLCV, trades use Price/Size/Side, quotes use the
// top-of-book fields and orderbook rows add Level.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Seq        int64     `json:"seq"`
	Instrument string    `json:"instrument"`

	Open   float64 `json:"open,omitempty"`
	High   float64 `json:"high,omitempty"`
	Low    float64 `json:"low,omitempty"`
	Close  float64 `json:"close,omitempty"`
	Volume float64 `json:"volume,omitempty"`

	Price float64 `json:"price,omitempty"`
	Size  float64 `json:"size,omitempty"`
	Side  string  `json:"side,omitempty"`

	BidPrice float64 `json:"bid_price,omitempty"`
	BidSize  float64 `json:"bid_size,omitempty"`
	AskPrice float64 `json:"ask_price,omitempty"`
	AskSize  float64 `json:"ask_size,omitempty"`
	Level    int     `json:"level,omitempty"`
}

// RecordKey identifies a record for de-duplication and upserts. It matches
// the ClickHouse sort key within one data type.
type RecordKey struct {
	Instrument string
	UnixNano   int64
	Seq        int64
	Level      int
}

// Key returns the identity of r.
func (r *Record) Key() RecordKey {
	return RecordKey{Instrument: r.Instrument, UnixNano: r.Timestamp.UnixNano(), Seq: r.Seq, Level: r.Level}
}

// Less orders records by instrument, then time, then sequence and book level.
func (k RecordKey) Less(o RecordKey) bool {
	if k.Instrument != o.Instrument {
		return k.Instrument < o.Instrument
	}
	if k.UnixNano != o.UnixNano {
		return k.UnixNano < o.UnixNano
	}
	if k.Seq != o.Seq {
		return k.Seq < o.Seq
	}
	return k.Level < o.Level
}

// FetchRequest is a validated data fetch.
type FetchRequest struct {
	Source     string
	Instrument string
	DataType   DataType
	Start      time.Time
	End        time.Time
	Interval   time.Duration
	Seed       int64
}

// Gap is a hole in a record series.
type Gap struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	MissingPoints int    `json:"missing_points"`
}

// DataQuality summarises the cleaning pass.
type DataQuality struct {
	MissingDataPoints int   `json:"missing_data_points"`
	Gaps              []Gap `json:"gaps"`
	Anomalies         int   `json:"anomalies"`
	DuplicatesRemoved int   `json:"duplicates_removed"`
}

// DataSummary bounds the cleaned series.
type DataSummary struct {
	FirstTimestamp *string `json:"first_timestamp"`
	LastTimestamp  *string `json:"last_timestamp"`
	Coverage       string  `json:"coverage"`
}

// WriteResult reports what a sink holds after a write.
type WriteResult struct {
	Location     string
	RecordsTotal int
	SizeBytes    int64
}

// FetchReport is the data fetcher result document.
type FetchReport struct {
	Status       string      `json:"status"`
	Source       string      `json:"source"`
	Instrument   string      `json:"instrument"`
	DataType     string      `json:"data_type"`
	Period       Period      `json:"period"`
	RecordsCount int         `json:"records_count"`
	FileSizeMB   float64     `json:"file_size_mb"`
	OutputPath   string      `json:"output_path"`
	DataQuality  DataQuality `json:"data_quality"`
	Summary      DataSummary `json:"summary"`
}
