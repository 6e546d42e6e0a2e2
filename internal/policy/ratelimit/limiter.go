// Package ratelimit implements the shared rate gate that paces every fetch.
//
// The gate is a single slot: Acquire waits until the slot is free, takes it,
// and schedules the slot to free itself after the configured interval. The
// acquirer never releases it, so a caller that forgets (or dies) cannot wedge
// the crawl. Burst capacity is exactly one request per interval.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/metrics"
)

// Config holds rate gate configuration.
type Config struct {
	// QPS is the number of requests dispatched per second; 0 disables the gate.
	QPS float64
}

// Interval converts QPS into the hold time of the gate.
func (c Config) Interval() time.Duration {
	if c.QPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.QPS)
}

// Gate is a timed mutual-exclusion gate shared by all workers.
type Gate struct {
	interval time.Duration
	clock    crawler.Clock
	slot     *semaphore.Weighted
}

// New creates a Gate from Config.
func New(cfg Config, clock crawler.Clock) *Gate {
	return NewWithInterval(cfg.Interval(), clock)
}

// NewWithInterval creates a Gate that holds for interval after every acquisition.
// An interval of zero yields a gate that never blocks.
func NewWithInterval(interval time.Duration, clock crawler.Clock) *Gate {
	return &Gate{
		interval: interval,
		clock:    clock,
		slot:     semaphore.NewWeighted(1),
	}
}

// Interval reports the configured hold time.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Acquire blocks until the gate is free, takes it, and returns immediately.
// The release fires in the background once the interval has passed.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate gate wait: %w", err)
	}
	if g.interval <= 0 {
		return nil
	}
	start := g.clock.Now()
	if err := g.slot.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rate gate wait: %w", err)
	}
	if waited := g.clock.Now().Sub(start); waited > time.Millisecond {
		metrics.ObserveGateWait(waited)
	}
	g.clock.AfterFunc(g.interval, g.release)
	return nil
}

func (g *Gate) release() {
	g.slot.Release(1)
}
