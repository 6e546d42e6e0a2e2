// Package gcs streams records as JSON lines into a Google Cloud Storage object.
package gcs

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/sink/jsonl"
)

// ContentType is set on every object this sink creates.
const ContentType = "application/x-ndjson"

// ParseURI splits a gs://bucket/object URI.
func ParseURI(uri string) (bucket, object string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse gcs uri: %w", err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("gcs uri %q must use the gs:// scheme", uri)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("gcs uri %q must name a bucket and an object", uri)
	}
	return u.Host, object, nil
}

// Sink uploads records to one object. The object only becomes visible once
// Close succeeds.
type Sink struct {
	*jsonl.Sink
	uri    string
	cancel context.CancelFunc
}

// New opens a streaming upload to uri. ctx bounds the whole upload, so it
// should outlive the crawl rather than be canceled with it.
func New(ctx context.Context, client *storage.Client, uri string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = ContentType
	return &Sink{Sink: jsonl.New(w), uri: uri, cancel: cancel}, nil
}

// URI returns the gs:// location being written.
func (s *Sink) URI() string {
	return s.uri
}

// Write encodes record into the upload stream.
func (s *Sink) Write(ctx context.Context, record crawler.Record) error {
	if err := s.Sink.Write(ctx, record); err != nil {
		return fmt.Errorf("gcs %s: %w", s.uri, err)
	}
	return nil
}

// Close finalizes the upload.
func (s *Sink) Close() error {
	defer s.cancel()
	if err := s.Sink.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", s.uri, err)
	}
	return nil
}

// Abort drops the upload without creating the object.
func (s *Sink) Abort() {
	s.cancel()
	_ = s.Sink.Close()
}
