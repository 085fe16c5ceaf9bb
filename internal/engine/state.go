// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/models"
)

// StateStore persists synchronization progress across restarts. Losing the
// state is safe: the next sync degrades to a full sync, nothing more.
type StateStore interface {
	// Load returns the persisted state, or a fresh state when none is
	// stored or the stored state is unreadable.
	Load(ctx context.Context) (*models.SyncState, error)

	// Save persists the state.
	Save(ctx context.Context, state *models.SyncState) error

	// Reset discards the persisted state, forcing a full sync on the
	// next cycle.
	Reset(ctx context.Context) error
}

// syncStateKey is the single key holding the serialized sync state.
const syncStateKey = "syncstate:v1"

// BadgerStateStore implements StateStore on BadgerDB, sharing the record
// store's database under a disjoint key.
type BadgerStateStore struct {
	db *badger.DB
}

// NewBadgerStateStore creates a sync state store on an open database.
func NewBadgerStateStore(db *badger.DB) *BadgerStateStore {
	return &BadgerStateStore{db: db}
}

// Load returns the persisted state. Corruption is logged and treated as
// absence: the engine recovers with a full sync rather than failing.
func (s *BadgerStateStore) Load(_ context.Context) (*models.SyncState, error) {
	state := models.NewSyncState()

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(syncStateKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read sync state: %w", err)
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, state); err != nil {
				logging.Warn().Err(err).Msg("Sync state corrupt, starting fresh; next sync will be full")
				*state = *models.NewSyncState()
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if state.LastSync == nil {
		state.LastSync = make(map[models.EntityType]*time.Time)
	}
	if state.RemoteNonEmpty == nil {
		state.RemoteNonEmpty = make(map[models.EntityType]bool)
	}
	return state, nil
}

// Save persists the state.
func (s *BadgerStateStore) Save(_ context.Context, state *models.SyncState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(syncStateKey), data)
	})
}

// Reset discards the persisted state.
func (s *BadgerStateStore) Reset(_ context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(syncStateKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// MemoryStateStore implements StateStore in process memory for the
// in-memory profile and tests.
type MemoryStateStore struct {
	mu    sync.Mutex
	state *models.SyncState
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load returns a copy of the held state, or a fresh state.
func (s *MemoryStateStore) Load(_ context.Context) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return models.NewSyncState(), nil
	}
	data, err := json.Marshal(s.state)
	if err != nil {
		return nil, err
	}
	out := models.NewSyncState()
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save persists the state.
func (s *MemoryStateStore) Save(_ context.Context, state *models.SyncState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	copied := models.NewSyncState()
	if err := json.Unmarshal(data, copied); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = copied
	s.mu.Unlock()
	return nil
}

// Reset discards the held state.
func (s *MemoryStateStore) Reset(_ context.Context) error {
	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()
	return nil
}

var (
	_ StateStore = (*BadgerStateStore)(nil)
	_ StateStore = (*MemoryStateStore)(nil)
)
