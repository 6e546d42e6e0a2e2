package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/metrics"
)

// ListingWorker turns listing pages into queued thread ids.
type ListingWorker struct {
	deps   Deps
	pages  crawler.Pages
	queue  crawler.Queue
	parser crawler.ListingParser
	logger *zap.Logger
}

// NewListing constructs a ListingWorker.
func NewListing(
	deps Deps,
	pages crawler.Pages,
	queue crawler.Queue,
	parser crawler.ListingParser,
	logger *zap.Logger,
) *ListingWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingWorker{
		deps:   deps.withDefaults(),
		pages:  pages,
		queue:  queue,
		parser: parser,
		logger: logger,
	}
}

// Run claims pages until the page source is exhausted or ctx ends.
func (w *ListingWorker) Run(ctx context.Context) {
	metrics.IncActiveWorkers(crawler.StageListing)
	defer metrics.DecActiveWorkers(crawler.StageListing)

	for ctx.Err() == nil {
		page, ok := w.pages.Next()
		if !ok {
			w.logger.Debug("page source exhausted")
			return
		}
		w.processPage(ctx, page)
	}
}

func (w *ListingWorker) processPage(ctx context.Context, page int) {
	url := w.deps.URLs.ListingURL(page)
	var ids []string
	resp, err := fetchWithRetry(ctx, w.deps, w.logger, crawler.StageListing, url)
	if err == nil {
		var parseErr error
		ids, parseErr = w.parser.ParseListing(resp.Body)
		err = observeParsed(crawler.StageListing, url, resp, parseErr)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.deps.Stats.PagesFailed.Add(1)
		metrics.ObserveItemFailed(crawler.StageListing)
		w.logger.Warn("listing page failed", zap.String("url", url), zap.Int("page", page), zap.Error(err))
		return
	}

	w.deps.Stats.PagesScanned.Add(1)
	w.logger.Info("listing page fetched", zap.String("url", url), zap.Int("page", page), zap.Int("ids", len(ids)))

	for _, id := range ids {
		if err := w.queue.Enqueue(ctx, crawler.QueueItem{ID: id, Page: page}); err != nil {
			w.logger.Error("enqueue thread id failed", zap.String("id", id), zap.Int("page", page), zap.Error(err))
			return
		}
		w.deps.Stats.IDsDiscovered.Add(1)
		metrics.ObserveDiscovered(1)
	}
}
