package export

import (
	"context"
	"errors"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

var ErrSinkClosed = errors.New("sink closed")

// MemorySink keeps put records in memory. Used by tests and dry runs.
type MemorySink struct {
	mu      sync.RWMutex
	records []arrow.Record
	closed  bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Put(_ context.Context, rec arrow.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSinkClosed
	}
	rec.Retain()
	m.records = append(m.records, rec)
	return nil
}

// Rows returns the total number of rows received.
func (m *MemorySink) Rows() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.records {
		n += r.NumRows()
	}
	return n
}

// Records returns the stored records. They stay owned by the sink.
func (m *MemorySink) Records() []arrow.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]arrow.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Close releases every stored record.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		r.Release()
	}
	m.records = nil
	m.closed = true
	return nil
}
