package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

func TestListingWorkerQueuesParsedIDs(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string]string{
		testURLs.ListingURL(1): "10,11,12",
		testURLs.ListingURL(2): "",
	})
	gate := &countingGate{}
	deps := newDeps(fetcher, gate, 5)
	queue := &sliceQueue{}

	w := NewListing(deps, &fixedPages{pages: []int{1, 2}}, queue, csvParser{}, zap.NewNop())
	w.Run(context.Background())

	assert.Equal(t, []crawler.QueueItem{
		{ID: "10", Page: 1},
		{ID: "11", Page: 1},
		{ID: "12", Page: 1},
	}, queue.Enqueued())
	assert.EqualValues(t, 2, gate.acquired.Load())
	summary := deps.Stats.Snapshot()
	assert.EqualValues(t, 2, summary.PagesScanned)
	assert.EqualValues(t, 3, summary.IDsDiscovered)
	assert.Zero(t, summary.PagesFailed)
}

func TestListingWorkerSkipsPageAfterExhaustingAttempts(t *testing.T) {
	t.Parallel()

	// Page 1 is missing (404 every time); page 2 still gets processed.
	fetcher := newScriptedFetcher(map[string]string{
		testURLs.ListingURL(2): "20",
	})
	gate := &countingGate{}
	deps := newDeps(fetcher, gate, 5)
	queue := &sliceQueue{}

	w := NewListing(deps, &fixedPages{pages: []int{1, 2}}, queue, csvParser{}, nil)
	w.Run(context.Background())

	assert.Equal(t, 5, fetcher.Calls(testURLs.ListingURL(1)))
	assert.Equal(t, 1, fetcher.Calls(testURLs.ListingURL(2)))
	assert.EqualValues(t, 6, gate.acquired.Load(), "every attempt takes a gate slot")
	assert.Equal(t, []crawler.QueueItem{{ID: "20", Page: 2}}, queue.Enqueued())
	assert.EqualValues(t, 1, deps.Stats.Snapshot().PagesFailed)
}

func TestListingWorkerDoesNotRefetchUnparsablePage(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string]string{
		testURLs.ListingURL(3): "bad",
		testURLs.ListingURL(4): "40",
	})
	gate := &countingGate{}
	deps := newDeps(fetcher, gate, 5)
	queue := &sliceQueue{}

	NewListing(deps, &fixedPages{pages: []int{3, 4}}, queue, csvParser{}, nil).Run(context.Background())

	assert.Equal(t, 1, fetcher.Calls(testURLs.ListingURL(3)), "a 2xx body that fails to parse is fetched once")
	assert.EqualValues(t, 2, gate.acquired.Load())
	assert.Equal(t, []crawler.QueueItem{{ID: "40", Page: 4}}, queue.Enqueued())
	assert.EqualValues(t, 1, deps.Stats.Snapshot().PagesFailed)
	assert.EqualValues(t, 1, deps.Stats.Snapshot().PagesScanned)
}

func TestNewListingDefaultsMissingStats(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string]string{testURLs.ListingURL(1): "1"})
	deps := Deps{Gate: &countingGate{}, Fetcher: fetcher, URLs: testURLs}
	queue := &sliceQueue{}

	w := NewListing(deps, &fixedPages{pages: []int{1, 2}}, queue, csvParser{}, nil)
	require.NotPanics(t, func() { w.Run(context.Background()) })
	require.Len(t, queue.Enqueued(), 1)
	require.Equal(t, crawler.DefaultAttempts, fetcher.Calls(testURLs.ListingURL(2)))
}

func TestListingWorkerStopsOnEnqueueError(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string]string{
		testURLs.ListingURL(1): "1,2",
		testURLs.ListingURL(2): "3",
	})
	deps := newDeps(fetcher, &countingGate{}, 5)
	queue := &sliceQueue{err: errors.New("queue closed")}

	NewListing(deps, &fixedPages{pages: []int{1, 2}}, queue, csvParser{}, nil).Run(context.Background())

	// The page itself succeeded; the worker moves on to the next page.
	assert.EqualValues(t, 2, deps.Stats.Snapshot().PagesScanned)
	assert.Zero(t, deps.Stats.Snapshot().IDsDiscovered)
}

func TestListingWorkerStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(nil)
	deps := newDeps(fetcher, &countingGate{}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewListing(deps, &fixedPages{pages: []int{1, 2, 3}}, &sliceQueue{}, csvParser{}, nil).Run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listing worker ignored cancellation")
	}
	require.Zero(t, fetcher.TotalCalls())
	require.Zero(t, deps.Stats.Snapshot().PagesFailed, "cancellation is not a page failure")
}

func TestFetchWithRetryWrapsLastError(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(nil)
	fetcher.err = errors.New("connection reset")
	deps := newDeps(fetcher, &countingGate{}, 2)

	_, err := fetchWithRetry(context.Background(), deps, zap.NewNop(), crawler.StageListing, "https://x/1")
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, 2, fetcher.Calls("https://x/1"))

	fetcher.err = nil
	_, err = fetchWithRetry(context.Background(), deps, zap.NewNop(), crawler.StageListing, "https://x/2")
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 404, statusErr.StatusCode)
}

func TestFetchWithRetryReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string]string{"https://x/ok": "body"})
	deps := newDeps(fetcher, &countingGate{}, 5)

	resp, err := fetchWithRetry(context.Background(), deps, zap.NewNop(), crawler.StageDetail, "https://x/ok")
	require.NoError(t, err)
	require.Equal(t, "body", string(resp.Body))
	require.Equal(t, 1, fetcher.Calls("https://x/ok"))
}
