package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
// Transport failures are returned as errors; any HTTP status is returned as a response.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ListingParser extracts thread ids from a listing page body.
type ListingParser interface {
	ParseListing(body []byte) ([]string, error)
}

// DetailParser extracts the record fields from a detail page body.
type DetailParser interface {
	ParseDetail(body []byte) (Detail, error)
}

// Sink receives every successfully parsed record.
type Sink interface {
	Write(ctx context.Context, record Record) error
	Close() error
}

// Gate admits one request at a time and holds itself shut for a fixed interval.
type Gate interface {
	Acquire(ctx context.Context) error
}

// Queue is the unbounded hand-off between listing and detail workers.
// Dequeue returns an error once the queue is closed and drained.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}

// Pages hands out listing page numbers, each exactly once.
type Pages interface {
	Next() (int, bool)
}

// RetryPolicy bounds the attempts made for a single page or thread.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(err error, attempt int) bool
}

// Clock returns the current time and schedules deferred callbacks (useful for testing).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func())
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher fingerprints record content so repeated fetches of a thread can be compared.
type Hasher interface {
	Hash(data []byte) (string, error)
}
