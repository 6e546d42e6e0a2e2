// Package pubsub publishes each record as a Google Cloud Pub/Sub message.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

// Message attribute keys.
const (
	AttrRunID    = "run_id"
	AttrThreadID = "thread_id"
)

// Sink publishes records to one topic and waits for each publish to settle.
type Sink struct {
	topic *pubsub.Topic
	runID string
}

// New wraps topic. The caller keeps ownership of the client.
func New(topic *pubsub.Topic, runID string) (*Sink, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Sink{topic: topic, runID: runID}, nil
}

// Write marshals record to JSON and publishes it.
func (s *Sink) Write(ctx context.Context, record crawler.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrRunID:    s.runID,
			AttrThreadID: record.ID,
		},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish record %s: %w", record.ID, err)
	}
	return nil
}

// Close flushes pending messages and stops the topic's publish goroutines.
func (s *Sink) Close() error {
	s.topic.Stop()
	return nil
}
