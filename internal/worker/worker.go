// Package worker implements the two worker loops of the crawl pipeline.
//
// Listing workers claim page numbers, fetch and parse each listing page, and
// push the thread ids they find onto the id queue. Detail workers drain that
// queue, fetch and parse each thread, and hand the resulting record to the
// sink. Both share one rate gate and one retry policy; a failed page or
// thread is logged and skipped, never fatal to the pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/metrics"
)

// ErrAttemptsExhausted wraps the last failure of an item that used its whole attempt budget.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// ErrParse marks a 2xx body the parser rejected. The item is skipped without another fetch.
var ErrParse = errors.New("parse")

// Deps are the collaborators shared by every worker of both pools.
type Deps struct {
	Gate    crawler.Gate
	Fetcher crawler.Fetcher
	Retry   crawler.RetryPolicy
	URLs    crawler.URLTemplates
	Stats   *Stats
}

// Stats counts pipeline progress across all workers.
type Stats struct {
	PagesScanned   atomic.Int64
	PagesFailed    atomic.Int64
	IDsDiscovered  atomic.Int64
	RecordsWritten atomic.Int64
	ThreadsFailed  atomic.Int64
	// PartialWrites counts records that some, but not all, sinks accepted.
	PartialWrites atomic.Int64
}

// Summary is a point-in-time copy of Stats.
type Summary struct {
	PagesScanned   int64 `json:"pages_scanned"`
	PagesFailed    int64 `json:"pages_failed"`
	IDsDiscovered  int64 `json:"ids_discovered"`
	RecordsWritten int64 `json:"records_written"`
	ThreadsFailed  int64 `json:"threads_failed"`
	PartialWrites  int64 `json:"partial_writes"`
}

func (d Deps) withDefaults() Deps {
	if d.Stats == nil {
		d.Stats = &Stats{}
	}
	if d.Retry == nil {
		d.Retry = crawler.NewFixedRetryPolicy(crawler.DefaultAttempts)
	}
	return d
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Summary {
	return Summary{
		PagesScanned:   s.PagesScanned.Load(),
		PagesFailed:    s.PagesFailed.Load(),
		IDsDiscovered:  s.IDsDiscovered.Load(),
		RecordsWritten: s.RecordsWritten.Load(),
		ThreadsFailed:  s.ThreadsFailed.Load(),
		PartialWrites:  s.PartialWrites.Load(),
	}
}

// fetchWithRetry runs up to MaxAttempts gated fetch attempts for url and
// returns the first 2xx response. Transport errors and non-2xx statuses are
// retried; every attempt, the first included, takes a slot from the gate.
func fetchWithRetry(
	ctx context.Context,
	deps Deps,
	logger *zap.Logger,
	stage string,
	url string,
) (crawler.FetchResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= deps.Retry.MaxAttempts(); attempt++ {
		if err := deps.Gate.Acquire(ctx); err != nil {
			return crawler.FetchResponse{}, err
		}
		resp, err := attemptOnce(ctx, deps.Fetcher, stage, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !deps.Retry.ShouldRetry(err, attempt) {
			break
		}
	}
	if ctx.Err() != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, ctx.Err())
	}
	return crawler.FetchResponse{}, fmt.Errorf("%w after %d tries: %w", ErrAttemptsExhausted, deps.Retry.MaxAttempts(), lastErr)
}

func attemptOnce(
	ctx context.Context,
	fetcher crawler.Fetcher,
	stage string,
	url string,
) (crawler.FetchResponse, error) {
	resp, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Stage: stage})
	if err != nil {
		metrics.ObserveFetch(stage, metrics.OutcomeError, url, 0)
		return crawler.FetchResponse{}, fmt.Errorf("fetch: %w", err)
	}
	if !resp.OK() {
		metrics.ObserveFetch(stage, metrics.OutcomeStatus, url, len(resp.Body))
		return crawler.FetchResponse{}, &crawler.StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// observeParsed records the outcome of a fetched 2xx body once the parser has run.
// Parse failures are never retried.
func observeParsed(stage, url string, resp crawler.FetchResponse, err error) error {
	if err != nil {
		metrics.ObserveFetch(stage, metrics.OutcomeParse, url, len(resp.Body))
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	metrics.ObserveFetch(stage, metrics.OutcomeSuccess, url, len(resp.Body))
	return nil
}
