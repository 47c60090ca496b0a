// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"

	"github.com/tomtom215/pathtrace/internal/models"
)

// FileStore keeps the snapshot as one human-readable JSON document. Writes
// go to a temporary file that replaces the document atomically, so a crash
// mid-write leaves the previous checkpoint readable.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store for the document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Name returns "file".
func (f *FileStore) Name() string { return "file" }

// Path returns the document location.
func (f *FileStore) Path() string { return f.path }

// Load reads and normalizes the document.
func (f *FileStore) Load(_ context.Context) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("read %s: empty document", f.path)
	}

	snap := &models.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	snap.Normalize()
	return snap, nil
}

// Save overwrites the document with s, indented by two spaces.
func (f *FileStore) Save(_ context.Context, s *models.Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }
