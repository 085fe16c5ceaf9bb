// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/store"
)

func stateFactories(t *testing.T) map[string]func(t *testing.T) StateStore {
	t.Helper()
	return map[string]func(t *testing.T) StateStore{
		"badger": func(t *testing.T) StateStore {
			db, err := store.OpenBadger(t.TempDir())
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			t.Cleanup(func() {
				_ = db.Close()
			})
			return NewBadgerStateStore(db)
		},
		"memory": func(t *testing.T) StateStore {
			return NewMemoryStateStore()
		},
	}
}

func TestStateStoreRoundTrip(t *testing.T) {
	for name, factory := range stateFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			loaded, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load empty: %v", err)
			}
			if !loaded.OldestSync().IsZero() {
				t.Error("fresh state should have no sync history")
			}

			ts := time.Now().UTC().Truncate(time.Second)
			loaded.LastSync[models.EntityVolunteers] = &ts
			loaded.RemoteNonEmpty[models.EntityVolunteers] = true
			loaded.Stats.TotalSyncs = 4
			loaded.Stats.LastError = "boom"

			if err := s.Save(ctx, loaded); err != nil {
				t.Fatalf("Save: %v", err)
			}

			again, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := again.LastSyncFor(models.EntityVolunteers); !got.Equal(ts) {
				t.Errorf("LastSync = %s, want %s", got, ts)
			}
			if !again.RemoteNonEmpty[models.EntityVolunteers] {
				t.Error("RemoteNonEmpty lost on round trip")
			}
			if again.Stats.TotalSyncs != 4 || again.Stats.LastError != "boom" {
				t.Errorf("stats = %+v", again.Stats)
			}
		})
	}
}

func TestStateStoreReset(t *testing.T) {
	for name, factory := range stateFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			state := models.NewSyncState()
			ts := time.Now().UTC()
			state.LastSync[models.EntityEvents] = &ts
			if err := s.Save(ctx, state); err != nil {
				t.Fatalf("Save: %v", err)
			}

			if err := s.Reset(ctx); err != nil {
				t.Fatalf("Reset: %v", err)
			}

			loaded, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.LastSync[models.EntityEvents] != nil {
				t.Error("reset state should have no sync history")
			}

			// Resetting twice is harmless.
			if err := s.Reset(ctx); err != nil {
				t.Fatalf("second Reset: %v", err)
			}
		})
	}
}

func TestBadgerStateStoreCorruptionFallsBack(t *testing.T) {
	t.Parallel()

	db, err := store.OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(syncStateKey), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("plant corrupt state: %v", err)
	}

	s := NewBadgerStateStore(db)
	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.OldestSync().IsZero() {
		t.Error("corrupt state should load as fresh")
	}
	if loaded.LastSync == nil || loaded.RemoteNonEmpty == nil {
		t.Error("fallback state must have initialized maps")
	}
}
