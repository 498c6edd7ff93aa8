// Package memory keeps records in memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

// Sink stores written records for inspection.
type Sink struct {
	mu      sync.RWMutex
	records []record.Record
	closed  bool
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Write appends rec.
func (s *Sink) Write(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the written records.
func (s *Sink) Records() []record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
