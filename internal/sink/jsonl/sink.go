// Package jsonl writes records as newline-delimited JSON to a local file.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

// Config captures the output location. Path "-" writes to stdout.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Sink appends one JSON object per line.
type Sink struct {
	mu     sync.Mutex
	file   io.Closer
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

// New opens (or creates) the output file, creating parent directories.
func New(cfg Config) (*Sink, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if path == "-" {
		return newSink(os.Stdout, nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	// #nosec G304 -- the output path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return newSink(f, f), nil
}

// NewWriter wraps w; Close flushes but does not close it.
func NewWriter(w io.Writer) *Sink {
	return newSink(w, nil)
}

func newSink(w io.Writer, c io.Closer) *Sink {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Sink{file: c, buf: buf, enc: enc}
}

// Write encodes rec as one line and flushes it.
func (s *Sink) Write(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("jsonl sink is closed")
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
	}
	return nil
}
