// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// Stage names used in logs and metrics.
const (
	StageListing = "listing"
	StageDetail  = "detail"
)

// Record is the structured result extracted from one detail page.
// It is never mutated after the detail worker emits it.
type Record struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	RawContent string `json:"content-raw"`
}

// Detail holds the fields a DetailParser extracts from a page body.
type Detail struct {
	Title      string
	Content    string
	RawContent string
}

// QueueItem carries a discovered thread id from a listing worker to a detail worker.
type QueueItem struct {
	ID   string
	Page int
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Stage   string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carries a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// StatusError reports a response that arrived but was not a success.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// PartialWriteError reports a record that reached some sinks but not all of them.
type PartialWriteError struct {
	Failed int
	Total  int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("record written to %d of %d sinks: %v", e.Total-e.Failed, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
