// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rosterhq/rostersync/internal/models"
)

// MemoryStore implements Store entirely in memory. It does not survive
// restarts; intended for tests and ephemeral deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	data      map[models.EntityType]map[string]models.Record
	observers []Observer
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[models.EntityType]map[string]models.Record),
	}
}

// Subscribe registers an observer for local mutations.
func (s *MemoryStore) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

func (s *MemoryStore) notify(m Mutation) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()

	for _, obs := range observers {
		obs(m)
	}
}

func (s *MemoryStore) collection(entity models.EntityType) map[string]models.Record {
	if s.data[entity] == nil {
		s.data[entity] = make(map[string]models.Record)
	}
	return s.data[entity]
}

// GetAll returns every record in the collection.
func (s *MemoryStore) GetAll(_ context.Context, entity models.EntityType) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.data[entity]
	records := make([]models.Record, 0, len(coll))
	for _, rec := range coll {
		records = append(records, rec.Clone())
	}
	return records, nil
}

// Get returns one record by id.
func (s *MemoryStore) Get(_ context.Context, entity models.EntityType, id string) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[entity][id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Add inserts a new record and notifies observers.
func (s *MemoryStore) Add(_ context.Context, entity models.EntityType, rec models.Record) (models.Record, error) {
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

	s.mu.Lock()
	coll := s.collection(entity)
	if _, exists := coll[stored.ID()]; exists {
		s.mu.Unlock()
		return nil, ErrDuplicateID
	}
	coll[stored.ID()] = stored.Clone()
	s.mu.Unlock()

	s.notify(Mutation{Entity: entity, Op: models.OpCreate, ID: stored.ID(), Record: stored})
	return stored, nil
}

// Update merges patch into an existing record and notifies observers.
func (s *MemoryStore) Update(_ context.Context, entity models.EntityType, id string, patch models.Record) (models.Record, error) {
	s.mu.Lock()
	existing, ok := s.data[entity][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	stored := existing.Clone()
	for k, v := range patch {
		if k == models.FieldID || k == models.FieldCreatedAt {
			continue
		}
		stored[k] = v
	}
	stored[models.FieldUpdatedAt] = models.NowTimestamp()
	s.data[entity][id] = stored.Clone()
	s.mu.Unlock()

	s.notify(Mutation{Entity: entity, Op: models.OpUpdate, ID: id, Record: stored})
	return stored, nil
}

// Delete removes a record and notifies observers.
func (s *MemoryStore) Delete(_ context.Context, entity models.EntityType, id string) error {
	s.mu.Lock()
	snapshot, ok := s.data[entity][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.data[entity], id)
	s.mu.Unlock()

	s.notify(Mutation{Entity: entity, Op: models.OpDelete, ID: id, Record: snapshot})
	return nil
}

// Apply upserts a record without notifying observers.
func (s *MemoryStore) Apply(_ context.Context, entity models.EntityType, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(entity)[rec.ID()] = rec.Clone()
	return nil
}

// Remove deletes a record without notifying observers.
func (s *MemoryStore) Remove(_ context.Context, entity models.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[entity], id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
