package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/queue/memory"
	"github.com/JakeFAU/threadcrawler/internal/worker"
)

// ErrInvalidPipeline reports a pipeline that is missing a collaborator or has too few workers.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// Options are the collaborators of one crawl.
type Options struct {
	Concurrency   int
	Pages         crawler.Pages
	Queue         crawler.Queue
	Gate          crawler.Gate
	Fetcher       crawler.Fetcher
	Retry         crawler.RetryPolicy
	URLs          crawler.URLTemplates
	ListingParser crawler.ListingParser
	DetailParser  crawler.DetailParser
	Sink          crawler.Sink
	Logger        *zap.Logger
}

// Pipeline is a fully wired crawl ready to run once.
type Pipeline struct {
	dispatcher *Dispatcher
	stats      *worker.Stats
	logger     *zap.Logger
}

// NewPipeline builds both worker pools from opts. A nil Queue gets an
// in-memory queue and a nil Retry gets the default attempt budget.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Concurrency < MinConcurrency {
		return nil, fmt.Errorf("%w: concurrency %d is below %d", ErrInvalidPipeline, opts.Concurrency, MinConcurrency)
	}
	switch {
	case opts.Pages == nil:
		return nil, fmt.Errorf("%w: page source is required", ErrInvalidPipeline)
	case opts.Gate == nil:
		return nil, fmt.Errorf("%w: rate gate is required", ErrInvalidPipeline)
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidPipeline)
	case opts.ListingParser == nil || opts.DetailParser == nil:
		return nil, fmt.Errorf("%w: parsers are required", ErrInvalidPipeline)
	case opts.Sink == nil:
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidPipeline)
	}
	if err := opts.URLs.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}
	if opts.Queue == nil {
		opts.Queue = memory.NewQueue()
	}
	if opts.Retry == nil {
		opts.Retry = crawler.NewFixedRetryPolicy(crawler.DefaultAttempts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stats := &worker.Stats{}
	deps := worker.Deps{
		Gate:    opts.Gate,
		Fetcher: opts.Fetcher,
		Retry:   opts.Retry,
		URLs:    opts.URLs,
		Stats:   stats,
	}

	numListing, numDetail := Partition(opts.Concurrency)
	listing := make([]Runner, 0, numListing)
	for i := range numListing {
		l := logger.Named("listing").With(zap.Int("index", i))
		listing = append(listing, worker.NewListing(deps, opts.Pages, opts.Queue, opts.ListingParser, l))
	}
	detail := make([]Runner, 0, numDetail)
	for i := range numDetail {
		l := logger.Named("detail").With(zap.Int("index", i))
		detail = append(detail, worker.NewDetail(deps, opts.Queue, opts.DetailParser, opts.Sink, l))
	}
	logger.Info("pipeline built",
		zap.Int("listing_workers", numListing),
		zap.Int("detail_workers", numDetail),
		zap.Int("max_attempts", opts.Retry.MaxAttempts()),
	)

	return &Pipeline{
		dispatcher: New(opts.Queue, listing, detail, logger),
		stats:      stats,
		logger:     logger,
	}, nil
}

// Progress returns the counters so far; safe to call while Run is in flight.
func (p *Pipeline) Progress() worker.Summary {
	return p.stats.Snapshot()
}

// Run executes the crawl and returns its counters.
func (p *Pipeline) Run(ctx context.Context) worker.Summary {
	p.dispatcher.Run(ctx)
	summary := p.stats.Snapshot()
	p.logger.Info("crawl finished",
		zap.Int64("pages_scanned", summary.PagesScanned),
		zap.Int64("pages_failed", summary.PagesFailed),
		zap.Int64("ids_discovered", summary.IDsDiscovered),
		zap.Int64("records_written", summary.RecordsWritten),
		zap.Int64("threads_failed", summary.ThreadsFailed),
		zap.Int64("partial_writes", summary.PartialWrites),
	)
	return summary
}
