// Package sink composes record sinks. Serial funnels concurrent writers
// through one owner goroutine; Multi fans each record out to several sinks.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink closed")

type writeRequest struct {
	ctx    context.Context
	record crawler.Record
	result chan error
}

// Serial owns an inner sink from a single goroutine so that records are
// written one at a time, whole, in arrival order.
type Serial struct {
	inner crawler.Sink
	reqs  chan writeRequest
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewSerial starts the owner goroutine for inner.
func NewSerial(inner crawler.Sink) *Serial {
	s := &Serial{
		inner: inner,
		reqs:  make(chan writeRequest),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Serial) loop() {
	defer close(s.done)
	for req := range s.reqs {
		req.result <- s.inner.Write(req.ctx, req.record)
	}
}

// Write hands record to the owner goroutine and waits for the result.
func (s *Serial) Write(ctx context.Context, record crawler.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	req := writeRequest{ctx: ctx, record: record, result: make(chan error, 1)}
	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return fmt.Errorf("sink write canceled: %w", ctx.Err())
	}
	return <-req.result
}

// Close waits for in-flight writes, stops the owner and closes the inner sink.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.reqs)
	s.mu.Unlock()

	<-s.done
	return s.inner.Close()
}

// Multi writes every record to all of its sinks.
type Multi struct {
	sinks []crawler.Sink
}

// NewMulti combines sinks. With a single sink it still works but adds nothing.
func NewMulti(sinks ...crawler.Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write fans the record out concurrently. When only some sinks fail the error
// is a *crawler.PartialWriteError, since the record was still persisted.
func (m *Multi) Write(ctx context.Context, record crawler.Record) error {
	var g errgroup.Group
	errs := make([]error, len(m.sinks))
	for i, s := range m.sinks {
		g.Go(func() error {
			errs[i] = s.Write(ctx, record)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	switch failed {
	case 0:
		return nil
	case len(m.sinks):
		return fmt.Errorf("multi sink: %w", errors.Join(errs...))
	default:
		return &crawler.PartialWriteError{Failed: failed, Total: len(m.sinks), Err: errors.Join(errs...)}
	}
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
