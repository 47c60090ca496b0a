// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/metrics"
	"github.com/tomtom215/pathtrace/internal/models"
)

// SnapshotSource produces a consistent, caller-owned copy of the user table.
type SnapshotSource interface {
	Snapshot() *models.Snapshot
}

// gcEvery controls how often a store with value log GC gets a GC pass.
const gcEvery = 10

type gcRunner interface {
	RunGC() error
}

// Checkpointer saves the user table on a fixed interval and once more when
// it is stopped. It implements suture.Service.
type Checkpointer struct {
	store    Store
	source   SnapshotSource
	interval time.Duration
	clock    quartz.Clock

	finalTimeout time.Duration

	mu      sync.Mutex
	flushes int
}

// CheckpointOption customizes a Checkpointer.
type CheckpointOption func(*Checkpointer)

// WithCheckpointClock replaces the wall clock, for tests.
func WithCheckpointClock(c quartz.Clock) CheckpointOption {
	return func(cp *Checkpointer) { cp.clock = c }
}

// WithFinalFlushTimeout bounds the flush performed on shutdown.
func WithFinalFlushTimeout(d time.Duration) CheckpointOption {
	return func(cp *Checkpointer) { cp.finalTimeout = d }
}

// NewCheckpointer creates a Checkpointer saving source into store every interval.
func NewCheckpointer(store Store, source SnapshotSource, interval time.Duration, opts ...CheckpointOption) *Checkpointer {
	cp := &Checkpointer{
		store:        store,
		source:       source,
		interval:     interval,
		clock:        quartz.NewReal(),
		finalTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

// Serve runs until ctx is cancelled, then performs a final flush.
func (c *Checkpointer) Serve(ctx context.Context) error {
	logging.Info().
		Str("backend", c.store.Name()).
		Dur("interval", c.interval).
		Msg("checkpointer started")

	w := c.clock.TickerFunc(ctx, c.interval, func() error {
		// Failures are logged and retried next tick; returning an error would stop the ticker.
		_ = c.Flush(ctx)
		return nil
	}, "storage", "checkpoint")

	<-ctx.Done()
	_ = w.Wait()

	finalCtx, cancel := context.WithTimeout(context.Background(), c.finalTimeout)
	defer cancel()
	if err := c.Flush(finalCtx); err != nil {
		logging.Error().Err(err).Msg("final checkpoint failed")
	} else {
		logging.Info().Str("backend", c.store.Name()).Msg("final checkpoint written")
	}
	return ctx.Err()
}

// Flush saves the current table immediately.
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.clock.Now()
	snap := c.source.Snapshot()
	err := c.store.Save(ctx, snap)
	dur := c.clock.Since(start)
	metrics.RecordCheckpoint(c.store.Name(), dur, err)

	if err != nil {
		logging.Error().Err(err).Str("backend", c.store.Name()).Msg("checkpoint failed")
		return err
	}
	logging.Debug().
		Str("backend", c.store.Name()).
		Int("users", len(snap.Users)).
		Dur("duration", dur).
		Msg("checkpoint written")

	c.flushes++
	if gc, ok := c.store.(gcRunner); ok && c.flushes%gcEvery == 0 {
		if err := gc.RunGC(); err != nil {
			logging.Warn().Err(err).Msg("storage GC failed")
		}
	}
	return nil
}

// String returns the service name used by the supervisor.
func (c *Checkpointer) String() string {
	return "checkpointer"
}
