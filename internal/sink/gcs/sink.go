// Package gcs uploads a run's records to Google Cloud Storage as one
// newline-delimited JSON object.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink/jsonl"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Sink streams records into a single object that is committed on Close.
type Sink struct {
	writer *storage.Writer
	lines  *jsonl.Sink
	uri    string
}

// New opens the object <prefix>/<runID>.jsonl for writing.
func New(ctx context.Context, client *storage.Client, cfg Config, runID string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	name := ObjectName(cfg.Prefix, runID)
	w := client.Bucket(cfg.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.ChunkSize = 0
	return &Sink{
		writer: w,
		lines:  jsonl.NewWriter(w),
		uri:    fmt.Sprintf("gs://%s/%s", cfg.Bucket, name),
	}, nil
}

// ObjectName joins prefix and the run's file name.
func ObjectName(prefix, runID string) string {
	return path.Join(strings.Trim(prefix, "/"), runID+".jsonl")
}

// URI returns the gs:// location of the object.
func (s *Sink) URI() string {
	return s.uri
}

// Write appends rec to the object.
func (s *Sink) Write(ctx context.Context, rec record.Record) error {
	if err := s.lines.Write(ctx, rec); err != nil {
		return fmt.Errorf("gcs write: %w", err)
	}
	return nil
}

// Close commits the object.
func (s *Sink) Close() error {
	flushErr := s.lines.Close()
	if err := s.writer.Close(); err != nil {
		if flushErr != nil {
			return fmt.Errorf("close writer: %w (flush: %v)", err, flushErr)
		}
		return fmt.Errorf("close writer: %w", err)
	}
	return flushErr
}
