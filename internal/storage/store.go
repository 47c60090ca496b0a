// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package storage persists the user table.
//
// A Store holds exactly one document, the {users, sessions} snapshot. Every
// Save overwrites it completely; there is no incremental write path. The
// Checkpointer drives Save on a fixed interval and once more on shutdown.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/pathtrace/internal/config"
	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// Store loads and saves the whole user table.
type Store interface {
	// Load returns the saved document, normalized, or ErrNotFound.
	Load(ctx context.Context) (*models.Snapshot, error)

	// Save replaces the saved document with s. A failed Save leaves the
	// previous document intact.
	Save(ctx context.Context, s *models.Snapshot) error

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}

// Open returns the backend selected by cfg.
func Open(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "badger":
		return OpenBadgerStore(BadgerOptions{Dir: cfg.BadgerDir})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// LoadOrEmpty loads the saved table. Any failure, including a missing or
// corrupt document, is logged and yields an empty table; it is never fatal.
func LoadOrEmpty(ctx context.Context, store Store) *models.Snapshot {
	snap, err := store.Load(ctx)
	switch {
	case err == nil:
		logging.Info().
			Str("backend", store.Name()).
			Int("users", len(snap.Users)).
			Msg("user table loaded")
		return snap
	case errors.Is(err, ErrNotFound):
		logging.Info().Str("backend", store.Name()).Msg("no saved user table, starting empty")
	default:
		logging.Warn().Err(err).Str("backend", store.Name()).Msg("failed to load user table, starting empty")
	}
	return models.NewSnapshot()
}
