// Package sink defines where canonical records go. Sinks are append-only.
package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

// Sink accepts one record at a time.
type Sink interface {
	Write(ctx context.Context, rec record.Record) error
	Close() error
}

// Multi fans each record out to every sink.
type Multi []Sink

// Write writes rec to all sinks and joins their errors.
func (m Multi) Write(ctx context.Context, rec record.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
