// Package jsonl writes records as newline-delimited JSON.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

// Sink encodes one record per line. It is not safe for concurrent use;
// wrap it in sink.Serial when several workers share it.
type Sink struct {
	w   *bufio.Writer
	c   io.Closer
	enc *json.Encoder
}

// New writes records to wc and closes it on Close.
func New(wc io.WriteCloser) *Sink {
	w := bufio.NewWriter(wc)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Sink{w: w, c: wc, enc: enc}
}

// OpenFile creates or truncates path and returns a sink writing to it.
func OpenFile(path string) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	// #nosec G304 -- the output path is operator supplied.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return New(f), nil
}

// Write appends record as a single line and flushes it.
func (s *Sink) Write(_ context.Context, record crawler.Record) error {
	if err := s.enc.Encode(record); err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush record %s: %w", record.ID, err)
	}
	return nil
}

// Close flushes buffered output and closes the underlying writer.
func (s *Sink) Close() error {
	flushErr := s.w.Flush()
	closeErr := s.c.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close jsonl sink: %w", err)
	}
	return nil
}
