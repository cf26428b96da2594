package repository

import (
	"context"
	"sync"

	"hfttools/internal/domain/models"
)

// MemoryLocation is reported for results that were not persisted.
const MemoryLocation = "memory"

// MemorySink keeps records in process memory with the same upsert semantics
// as the file sinks.
type MemorySink struct {
	mu      sync.Mutex
	records map[models.DataType][]models.Record
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[models.DataType][]models.Record)}
}

// Write implements repository.RecordSink.
func (s *MemorySink) Write(_ context.Context, dataType models.DataType, records []models.Record) (models.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := MergeRecords(s.records[dataType], records)
	s.records[dataType] = merged
	return models.WriteResult{Location: MemoryLocation, RecordsTotal: len(merged)}, nil
}

// Records returns what the sink holds for dataType.
func (s *MemorySink) Records(dataType models.DataType) []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Record(nil), s.records[dataType]...)
}

// Close implements repository.RecordSink.
func (s *MemorySink) Close() error { return nil }
