// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
)

// Key layout. Each Save writes a complete copy of the table under a fresh
// generation prefix and then flips currentKey, so readers always see one
// whole generation.
//
//	meta/current      -> big-endian uint64 generation
//	g<n>/u/<token>    -> UserRecord JSON
//	g<n>/sessions     -> sessions array JSON
var currentKey = []byte("meta/current")

const gcDiscardRatio = 0.5

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	Dir      string
	InMemory bool
}

// BadgerStore keeps the table in an embedded BadgerDB, one key per user.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.Mutex
	closed bool
}

// OpenBadgerStore opens (or creates) the database described by o.
func OpenBadgerStore(o BadgerOptions) (*BadgerStore, error) {
	opts := badger.DefaultOptions(o.Dir)
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Name returns "badger".
func (b *BadgerStore) Name() string { return "badger" }

func generationPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("g%d/", gen))
}

func userKey(gen uint64, id models.VisitorToken) []byte {
	return append(generationPrefix(gen), "u/"+string(id)...)
}

func sessionsKey(gen uint64) []byte {
	return append(generationPrefix(gen), "sessions"...)
}

func readGeneration(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(currentKey)
	if err != nil {
		return 0, err
	}
	var gen uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt generation marker (%d bytes)", len(val))
		}
		gen = binary.BigEndian.Uint64(val)
		return nil
	})
	return gen, err
}

// Load reads the current generation.
func (b *BadgerStore) Load(_ context.Context) (*models.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errStoreClosed
	}

	snap := models.NewSnapshot()
	err := b.db.View(func(txn *badger.Txn) error {
		gen, err := readGeneration(txn)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		item, err := txn.Get(sessionsKey(gen))
		if err != nil {
			return fmt.Errorf("read sessions: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap.Sessions)
		}); err != nil {
			return fmt.Errorf("decode sessions: %w", err)
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := append(generationPrefix(gen), "u/"...)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := models.VisitorToken(bytes.TrimPrefix(item.Key(), prefix))
			rec := &models.UserRecord{}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, rec)
			}); err != nil {
				return fmt.Errorf("decode user %s: %w", id, err)
			}
			snap.Users[id] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap.Normalize()
	return snap, nil
}

// Save writes s as a new generation, makes it current, then removes the
// previous one. A failure before the flip leaves the previous generation
// current.
func (b *BadgerStore) Save(_ context.Context, s *models.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errStoreClosed
	}

	var prev uint64
	havePrev := true
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		prev, err = readGeneration(txn)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		havePrev = false
	case err != nil:
		return fmt.Errorf("read generation: %w", err)
	}
	next := prev + 1

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for id, rec := range s.Users {
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode user %s: %w", id, err)
		}
		if err := wb.Set(userKey(next, id), val); err != nil {
			return fmt.Errorf("write user %s: %w", id, err)
		}
	}
	sessions := s.Sessions
	if sessions == nil {
		sessions = []json.RawMessage{}
	}
	val, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := wb.Set(sessionsKey(next), val); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush generation %d: %w", next, err)
	}

	marker := make([]byte, 8)
	binary.BigEndian.PutUint64(marker, next)
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(currentKey, marker)
	}); err != nil {
		return fmt.Errorf("switch generation: %w", err)
	}

	if havePrev {
		if err := b.dropGeneration(prev); err != nil {
			// The new generation is already current; stale keys are only wasted space.
			logging.Warn().Err(err).Uint64("generation", prev).Msg("failed to drop previous generation")
		}
	}
	return nil
}

func (b *BadgerStore) dropGeneration(gen uint64) error {
	var keys [][]byte
	prefix := generationPrefix(gen)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// RunGC reclaims value log space left behind by dropped generations.
func (b *BadgerStore) RunGC() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errStoreClosed
	}

	for {
		err := b.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database. It is safe to call more than once.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

var errStoreClosed = errors.New("store is closed")
