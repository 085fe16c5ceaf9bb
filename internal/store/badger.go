// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/models"
)

// recordKeyPrefix namespaces record keys inside the shared Badger instance.
const recordKeyPrefix = "record:"

// BadgerStore implements Store using BadgerDB for durable storage.
type BadgerStore struct {
	db *badger.DB

	mu        sync.RWMutex
	observers []Observer
}

// NewBadgerStore creates a record store backed by an open Badger database.
// The database may be shared with the change tracker and sync state store;
// key prefixes keep the namespaces disjoint.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Subscribe registers an observer for local mutations.
func (s *BadgerStore) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

func (s *BadgerStore) notify(m Mutation) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()

	for _, obs := range observers {
		obs(m)
	}
}

func recordKey(entity models.EntityType, id string) []byte {
	return []byte(recordKeyPrefix + string(entity) + ":" + id)
}

func entityPrefix(entity models.EntityType) []byte {
	return []byte(recordKeyPrefix + string(entity) + ":")
}

// GetAll returns every record in the collection.
func (s *BadgerStore) GetAll(_ context.Context, entity models.EntityType) ([]models.Record, error) {
	var records []models.Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := entityPrefix(entity)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec models.Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("unmarshal record: %w", err)
				}
				records = append(records, rec)
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

	return records, nil
}

// Get returns one record by id.
func (s *BadgerStore) Get(_ context.Context, entity models.EntityType, id string) (models.Record, error) {
	var rec models.Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(entity, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Add inserts a new record and notifies observers.
func (s *BadgerStore) Add(ctx context.Context, entity models.EntityType, rec models.Record) (models.Record, error) {
	stored := rec.Clone()
	if stored.ID() == "" {
		stored[models.FieldID] = uuid.NewString()
	}

	now := models.NowTimestamp()
	if stored[models.FieldCreatedAt] == "" {
		stored[models.FieldCreatedAt] = now
	}
	if stored[models.FieldUpdatedAt] == "" {
		stored[models.FieldUpdatedAt] = now
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(entity, stored.ID())
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateID
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check record: %w", err)
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}

	s.notify(Mutation{Entity: entity, Op: models.OpCreate, ID: stored.ID(), Record: stored})
	return stored, nil
}

// Update merges patch into an existing record and notifies observers.
func (s *BadgerStore) Update(ctx context.Context, entity models.EntityType, id string, patch models.Record) (models.Record, error) {
	var stored models.Record

	err := s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(entity, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}

		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
		if err != nil {
			return err
		}

		for k, v := range patch {
			if k == models.FieldID || k == models.FieldCreatedAt {
				continue
			}
			stored[k] = v
		}
		stored[models.FieldUpdatedAt] = models.NowTimestamp()

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}

	s.notify(Mutation{Entity: entity, Op: models.OpUpdate, ID: id, Record: stored})
	return stored, nil
}

// Delete removes a record and notifies observers.
func (s *BadgerStore) Delete(ctx context.Context, entity models.EntityType, id string) error {
	var snapshot models.Record

	err := s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(entity, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}

		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snapshot)
		})
		if err != nil {
			return err
		}

		return txn.Delete(key)
	})
	if err != nil {
		return err
	}

	// Deletion is observed with the pre-delete snapshot so the upload
	// phase can still identify the remote row by id.
	s.notify(Mutation{Entity: entity, Op: models.OpDelete, ID: id, Record: snapshot})
	return nil
}

// Apply upserts a record without notifying observers.
func (s *BadgerStore) Apply(_ context.Context, entity models.EntityType, rec models.Record) error {
	if rec.ID() == "" {
		return fmt.Errorf("apply: record has no id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(entity, rec.ID()), data)
	})
}

// Remove deletes a record without notifying observers.
func (s *BadgerStore) Remove(_ context.Context, entity models.EntityType, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(entity, id))
	})
}

// badgerLogger routes Badger's internal logging through the application
// logger. Badger's chatty INFO output is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Msg(badgerMsg(format, args))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Msg(badgerMsg(format, args))
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Msg(badgerMsg(format, args))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Debug().Msg(badgerMsg(format, args))
}

// badgerMsg prefixes and trims a Badger log line; Badger appends its own
// newline, which has no place in structured output.
func badgerMsg(format string, args []any) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}

var _ badger.Logger = badgerLogger{}

// OpenBadger opens (or creates) a Badger database at the given path with
// logging routed to the application logger.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

// RunGC runs Badger value-log garbage collection until no more progress
// is made. Call periodically from a background loop.
func RunGC(db *badger.DB) {
	for {
		if err := db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

var _ Store = (*BadgerStore)(nil)
