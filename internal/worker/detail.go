package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/metrics"
)

// DetailWorker turns queued thread ids into records.
type DetailWorker struct {
	deps   Deps
	queue  crawler.Queue
	parser crawler.DetailParser
	sink   crawler.Sink
	logger *zap.Logger
}

// NewDetail constructs a DetailWorker.
func NewDetail(
	deps Deps,
	queue crawler.Queue,
	parser crawler.DetailParser,
	sink crawler.Sink,
	logger *zap.Logger,
) *DetailWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailWorker{
		deps:   deps.withDefaults(),
		queue:  queue,
		parser: parser,
		sink:   sink,
		logger: logger,
	}
}

// Run drains the id queue until it is closed or ctx ends.
func (w *DetailWorker) Run(ctx context.Context) {
	metrics.IncActiveWorkers(crawler.StageDetail)
	defer metrics.DecActiveWorkers(crawler.StageDetail)

	for ctx.Err() == nil {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Debug("id queue finished", zap.Error(err))
			return
		}
		w.processThread(ctx, item)
	}
}

func (w *DetailWorker) processThread(ctx context.Context, item crawler.QueueItem) {
	url := w.deps.URLs.DetailURL(item.ID)
	var detail crawler.Detail
	resp, err := fetchWithRetry(ctx, w.deps, w.logger, crawler.StageDetail, url)
	if err == nil {
		var parseErr error
		detail, parseErr = w.parser.ParseDetail(resp.Body)
		err = observeParsed(crawler.StageDetail, url, resp, parseErr)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fail(item, url, "thread fetch failed", err)
		return
	}

	record := crawler.Record{
		ID:         item.ID,
		Title:      detail.Title,
		Content:    detail.Content,
		RawContent: detail.RawContent,
	}
	if err := w.sink.Write(ctx, record); err != nil {
		var partial *crawler.PartialWriteError
		if !errors.As(err, &partial) {
			w.fail(item, url, "sink write failed", err)
			return
		}
		w.deps.Stats.PartialWrites.Add(1)
		w.logger.Warn("record missing from some sinks",
			zap.String("id", item.ID),
			zap.Int("failed_sinks", partial.Failed),
			zap.Error(err),
		)
	}
	w.deps.Stats.RecordsWritten.Add(1)
	metrics.ObserveRecord()
	w.logger.Info("thread fetched", zap.String("url", url), zap.String("id", item.ID))
}

func (w *DetailWorker) fail(item crawler.QueueItem, url, msg string, err error) {
	w.deps.Stats.ThreadsFailed.Add(1)
	metrics.ObserveItemFailed(crawler.StageDetail)
	w.logger.Warn(msg,
		zap.String("url", url),
		zap.String("id", item.ID),
		zap.Int("page", item.Page),
		zap.Error(err),
	)
}
