// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package store provides the durable local record store for roster entities.
//
// The store exposes two write paths with different observability:
//
//   - Add/Update/Delete are local mutation paths. Each one notifies
//     subscribed observers so the change tracker can capture the mutation.
//   - Apply/Remove are reconciliation paths used by the sync engine when
//     merging downloaded remote data. They bypass observers; without that
//     split every download would be re-tracked as a local change and echo
//     back to the remote store on the next cycle.
package store

import (
	"context"
	"errors"

	"github.com/rosterhq/rostersync/internal/models"
)

// ErrNotFound is returned when a record id does not exist in a collection.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateID is returned by Add when the record id already exists.
var ErrDuplicateID = errors.New("record id already exists")

// Mutation describes a completed local write, delivered to observers
// after the write is durable.
type Mutation struct {
	Entity models.EntityType
	Op     models.Operation
	ID     string

	// Record is the post-write snapshot; for deletes it is the last
	// known state of the record before removal.
	Record models.Record
}

// Observer receives local mutations. Observers run synchronously on the
// mutating call path and must not block on network I/O.
type Observer func(Mutation)

// Store is the local record store consumed by the sync engine and the
// HTTP surface. Implementations persist across process restarts except
// where documented otherwise.
type Store interface {
	// GetAll returns every record in the collection, in unspecified order.
	GetAll(ctx context.Context, entity models.EntityType) ([]models.Record, error)

	// Get returns one record by id, or ErrNotFound.
	Get(ctx context.Context, entity models.EntityType, id string) (models.Record, error)

	// Add inserts a new record, assigning an id and timestamps when
	// absent, and notifies observers. Returns the stored record.
	Add(ctx context.Context, entity models.EntityType, rec models.Record) (models.Record, error)

	// Update merges patch into an existing record, bumps updatedAt,
	// and notifies observers. Returns the stored record or ErrNotFound.
	Update(ctx context.Context, entity models.EntityType, id string, patch models.Record) (models.Record, error)

	// Delete removes a record and notifies observers.
	// Deleting a missing id returns ErrNotFound.
	Delete(ctx context.Context, entity models.EntityType, id string) error

	// Apply upserts a record verbatim without notifying observers.
	// Used by download reconciliation.
	Apply(ctx context.Context, entity models.EntityType, rec models.Record) error

	// Remove deletes a record without notifying observers. Removing a
	// missing id is a no-op. Used by download reconciliation.
	Remove(ctx context.Context, entity models.EntityType, id string) error

	// Subscribe registers an observer for local mutations. Must be
	// called before concurrent writes begin.
	Subscribe(obs Observer)
}
