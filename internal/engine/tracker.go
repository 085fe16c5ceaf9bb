// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/store"
)

// ChangeTracker records local mutations for the upload phase. At most one
// entry exists per record id per entity: later mutations collapse into the
// earlier entry so only the latest state is ever uploaded.
type ChangeTracker interface {
	// Track captures one local mutation. Failures are logged by the
	// caller and never propagated to the mutating request.
	Track(ctx context.Context, entity models.EntityType, op models.Operation, rec models.Record) error

	// Unsynced returns pending entries for one entity, oldest first.
	Unsynced(ctx context.Context, entity models.EntityType) ([]models.ChangeEntry, error)

	// UnsyncedSince returns pending entries recorded strictly after the
	// given time, oldest first. A zero time returns every pending entry.
	UnsyncedSince(ctx context.Context, entity models.EntityType, since time.Time) ([]models.ChangeEntry, error)

	// MarkSynced flags entries as uploaded. Marking an already-synced
	// or absent id is a no-op, so retried uploads stay idempotent.
	MarkSynced(ctx context.Context, entity models.EntityType, ids []string, at time.Time) error

	// CleanupOlderThan deletes synced entries older than the cutoff and
	// returns how many were removed. Unsynced entries are never removed
	// regardless of age.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Reset deletes every entry, pending or synced. Part of the
	// user-facing sync reset, alongside discarding the sync state.
	Reset(ctx context.Context) error
}

// changeKeyPrefix namespaces change entries inside the shared Badger
// instance, disjoint from record and sync state keys.
const changeKeyPrefix = "change:"

func changeKey(entity models.EntityType, id string) []byte {
	return []byte(changeKeyPrefix + string(entity) + ":" + id)
}

func changePrefix(entity models.EntityType) []byte {
	return []byte(changeKeyPrefix + string(entity) + ":")
}

// BadgerTracker implements ChangeTracker on BadgerDB.
type BadgerTracker struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerTracker creates a change tracker sharing the given database.
func NewBadgerTracker(db *badger.DB) *BadgerTracker {
	return &BadgerTracker{db: db, now: time.Now}
}

// mergeChange folds a new mutation into an existing unsynced entry.
// The returned boolean is false when the merge cancels the entry out
// entirely (a never-uploaded create followed by a delete).
func mergeChange(prior *models.ChangeEntry, op models.Operation, rec models.Record, at time.Time) (models.ChangeEntry, bool) {
	entry := models.ChangeEntry{
		ID:        rec.ID(),
		Operation: op,
		Data:      rec.Clone(),
		Timestamp: at,
	}

	if prior == nil || prior.Synced {
		return entry, true
	}

	switch {
	case prior.Operation == models.OpCreate && op == models.OpDelete:
		// The record never reached the remote store; nothing to upload.
		return models.ChangeEntry{}, false
	case prior.Operation == models.OpCreate && op == models.OpUpdate:
		// Still needs an append, not an overwrite.
		entry.Operation = models.OpCreate
	case prior.Operation == models.OpDelete && op == models.OpCreate:
		// The unsynced delete never removed the remote row.
		entry.Operation = models.OpUpdate
	}

	return entry, true
}

// Track captures one local mutation.
func (t *BadgerTracker) Track(_ context.Context, entity models.EntityType, op models.Operation, rec models.Record) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("track %s %s: record has no id", entity, op)
	}

	key := changeKey(entity, id)
	return t.db.Update(func(txn *badger.Txn) error {
		var prior *models.ChangeEntry
		item, err := txn.Get(key)
		if err == nil {
			decodeErr := item.Value(func(val []byte) error {
				var e models.ChangeEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				prior = &e
				return nil
			})
			if decodeErr != nil {
				// A corrupt entry is replaced, not fatal.
				prior = nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("read change entry: %w", err)
		}

		entry, keep := mergeChange(prior, op, rec, t.now().UTC())
		if !keep {
			return txn.Delete(key)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal change entry: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Unsynced returns pending entries for one entity, oldest first.
func (t *BadgerTracker) Unsynced(ctx context.Context, entity models.EntityType) ([]models.ChangeEntry, error) {
	return t.UnsyncedSince(ctx, entity, time.Time{})
}

// UnsyncedSince returns pending entries recorded after the given time.
func (t *BadgerTracker) UnsyncedSince(_ context.Context, entity models.EntityType, since time.Time) ([]models.ChangeEntry, error) {
	var entries []models.ChangeEntry

	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := changePrefix(entity)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e models.ChangeEntry
				if err := json.Unmarshal(val, &e); err != nil {
					logging.Warn().Err(err).Str("entity", entity.String()).Msg("Skipping corrupt change entry")
					return nil
				}
				if !e.Synced && e.Timestamp.After(since) {
					entries = append(entries, e)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// MarkSynced flags entries as uploaded.
func (t *BadgerTracker) MarkSynced(_ context.Context, entity models.EntityType, ids []string, at time.Time) error {
	at = at.UTC()
	return t.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			key := changeKey(entity, id)
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("read change entry: %w", err)
			}

			var entry models.ChangeEntry
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil || entry.Synced {
				continue
			}

			entry.Synced = true
			entry.SyncedAt = &at
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshal change entry: %w", err)
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// CleanupOlderThan deletes synced entries older than the cutoff.
func (t *BadgerTracker) CleanupOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0

	for _, entity := range models.AllEntities() {
		err := t.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			prefix := changePrefix(entity)
			opts.Prefix = prefix

			var stale [][]byte
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				err := item.Value(func(val []byte) error {
					var e models.ChangeEntry
					if err := json.Unmarshal(val, &e); err != nil {
						return nil
					}
					if e.Synced && e.SyncedAt != nil && e.SyncedAt.Before(cutoff) {
						stale = append(stale, item.KeyCopy(nil))
					}
					return nil
				})
				if err != nil {
					it.Close()
					return err
				}
			}
			it.Close()

			for _, key := range stale {
				if err := txn.Delete(key); err != nil {
					return err
				}
				removed++
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("cleanup %s changes: %w", entity, err)
		}
	}

	return removed, nil
}

// Reset deletes every change entry.
func (t *BadgerTracker) Reset(_ context.Context) error {
	return t.db.DropPrefix([]byte(changeKeyPrefix))
}

// MemoryTracker implements ChangeTracker in process memory. It backs the
// in-memory store profile and tests.
type MemoryTracker struct {
	mu      sync.Mutex
	entries map[models.EntityType]map[string]models.ChangeEntry
	now     func() time.Time
}

// NewMemoryTracker creates an empty in-memory change tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[models.EntityType]map[string]models.ChangeEntry),
		now:     time.Now,
	}
}

// Track captures one local mutation.
func (t *MemoryTracker) Track(_ context.Context, entity models.EntityType, op models.Operation, rec models.Record) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("track %s %s: record has no id", entity, op)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byID := t.entries[entity]
	if byID == nil {
		byID = make(map[string]models.ChangeEntry)
		t.entries[entity] = byID
	}

	var prior *models.ChangeEntry
	if e, ok := byID[id]; ok {
		prior = &e
	}

	entry, keep := mergeChange(prior, op, rec, t.now().UTC())
	if !keep {
		delete(byID, id)
		return nil
	}
	byID[id] = entry
	return nil
}

// Unsynced returns pending entries for one entity, oldest first.
func (t *MemoryTracker) Unsynced(ctx context.Context, entity models.EntityType) ([]models.ChangeEntry, error) {
	return t.UnsyncedSince(ctx, entity, time.Time{})
}

// UnsyncedSince returns pending entries recorded after the given time.
func (t *MemoryTracker) UnsyncedSince(_ context.Context, entity models.EntityType, since time.Time) ([]models.ChangeEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var entries []models.ChangeEntry
	for _, e := range t.entries[entity] {
		if !e.Synced && e.Timestamp.After(since) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// MarkSynced flags entries as uploaded.
func (t *MemoryTracker) MarkSynced(_ context.Context, entity models.EntityType, ids []string, at time.Time) error {
	at = at.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	byID := t.entries[entity]
	for _, id := range ids {
		e, ok := byID[id]
		if !ok || e.Synced {
			continue
		}
		e.Synced = true
		e.SyncedAt = &at
		byID[id] = e
	}
	return nil
}

// CleanupOlderThan deletes synced entries older than the cutoff.
func (t *MemoryTracker) CleanupOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, byID := range t.entries {
		for id, e := range byID {
			if e.Synced && e.SyncedAt != nil && e.SyncedAt.Before(cutoff) {
				delete(byID, id)
				removed++
			}
		}
	}
	return removed, nil
}

// Reset deletes every change entry.
func (t *MemoryTracker) Reset(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[models.EntityType]map[string]models.ChangeEntry)
	return nil
}

// TrackMutations subscribes a change tracker to a record store so every
// local mutation is captured. Tracking failures are logged and never
// surfaced to the mutating request.
func TrackMutations(s store.Store, tracker ChangeTracker) {
	s.Subscribe(func(m store.Mutation) {
		if err := tracker.Track(context.Background(), m.Entity, m.Op, m.Record); err != nil {
			logging.Error().
				Err(err).
				Str("entity", m.Entity.String()).
				Str("operation", string(m.Op)).
				Str("id", m.ID).
				Msg("Failed to track local change")
		}
	})
}

var (
	_ ChangeTracker = (*BadgerTracker)(nil)
	_ ChangeTracker = (*MemoryTracker)(nil)
)
