package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

var testURLs = crawler.URLTemplates{
	Listing: "https://forum.test/list-%d.html",
	Detail:  "https://m.forum.test/read.php?tid=%s",
}

// scriptedFetcher serves canned bodies per URL; unknown URLs get the fallback status.
type scriptedFetcher struct {
	mu       sync.Mutex
	bodies   map[string]string
	fallback int
	err      error
	calls    map[string]int
}

func newScriptedFetcher(bodies map[string]string) *scriptedFetcher {
	return &scriptedFetcher{
		bodies:   bodies,
		fallback: http.StatusNotFound,
		calls:    make(map[string]int),
	}
}

func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	body, ok := f.bodies[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: f.fallback}, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *scriptedFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *scriptedFetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// countingGate admits everyone and counts acquisitions.
type countingGate struct {
	acquired atomic.Int64
}

func (g *countingGate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.acquired.Add(1)
	return nil
}

// csvParser reads listing bodies as comma separated ids and detail bodies as
// "title|content|raw"; the body "bad" fails to parse.
type csvParser struct{}

var errBadBody = errors.New("bad body")

func (csvParser) ParseListing(body []byte) ([]string, error) {
	s := string(body)
	if s == "bad" {
		return nil, errBadBody
	}
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, ","), nil
}

func (csvParser) ParseDetail(body []byte) (crawler.Detail, error) {
	parts := strings.SplitN(string(body), "|", 3)
	if len(parts) != 3 {
		return crawler.Detail{}, errBadBody
	}
	return crawler.Detail{Title: parts[0], Content: parts[1], RawContent: parts[2]}, nil
}

// memorySink collects records; err makes every write fail.
type memorySink struct {
	mu      sync.Mutex
	records []crawler.Record
	err     error
}

func (s *memorySink) Write(_ context.Context, record crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) Records() []crawler.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Record(nil), s.records...)
}

// sliceQueue is a closed, pre-filled queue.
type sliceQueue struct {
	mu       sync.Mutex
	items    []crawler.QueueItem
	enqueued []crawler.QueueItem
	err      error
}

func (q *sliceQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, item)
	return nil
}

func (q *sliceQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return crawler.QueueItem{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return crawler.QueueItem{}, errors.New("queue closed")
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

func (q *sliceQueue) Close() {}

func (q *sliceQueue) Enqueued() []crawler.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]crawler.QueueItem(nil), q.enqueued...)
}

// fixedPages hands out a fixed list of pages.
type fixedPages struct {
	mu    sync.Mutex
	pages []int
}

func (p *fixedPages) Next() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return 0, false
	}
	page := p.pages[0]
	p.pages = p.pages[1:]
	return page, true
}

func newDeps(fetcher crawler.Fetcher, gate crawler.Gate, attempts int) Deps {
	return Deps{
		Gate:    gate,
		Fetcher: fetcher,
		Retry:   crawler.NewFixedRetryPolicy(attempts),
		URLs:    testURLs,
		Stats:   &Stats{},
	}
}
