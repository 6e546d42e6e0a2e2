// Package dispatcher wires the two worker pools together and owns the
// termination protocol: listing workers run to completion, the id queue is
// closed once, and detail workers drain what is left before exiting.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

// DetailPerListing is how many workers of the pool share one listing worker.
const DetailPerListing = 40

// MinConcurrency is the smallest pool that still has one worker per stage.
const MinConcurrency = 2

// Partition splits concurrency into listing and detail worker counts.
// Listing workers get ceil(concurrency/40); detail workers get the rest.
func Partition(concurrency int) (listing, detail int) {
	if concurrency <= 0 {
		return 0, 0
	}
	listing = (concurrency + DetailPerListing - 1) / DetailPerListing
	return listing, concurrency - listing
}

// Runner is a worker loop that returns when it has nothing left to do.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans work out to both pools and sequences their shutdown.
type Dispatcher struct {
	queue   crawler.Queue
	listing []Runner
	detail  []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, listing, detail []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		listing: listing,
		detail:  detail,
		logger:  logger,
	}
}

// Run starts every worker and blocks until both pools have finished. The
// queue is closed exactly once, after the last listing worker returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var detailWG sync.WaitGroup
	for _, w := range d.detail {
		detailWG.Add(1)
		go func(r Runner) {
			defer detailWG.Done()
			r.Run(ctx)
		}(w)
	}

	var listingWG sync.WaitGroup
	for _, w := range d.listing {
		listingWG.Add(1)
		go func(r Runner) {
			defer listingWG.Done()
			r.Run(ctx)
		}(w)
	}

	listingWG.Wait()
	d.logger.Info("listing workers finished; closing id queue",
		zap.Int("detail_workers", len(d.detail)),
	)
	d.queue.Close()
	detailWG.Wait()
	d.logger.Info("detail workers finished")
}
