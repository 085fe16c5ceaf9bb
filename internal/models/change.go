// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package models

import "time"

// Operation is the kind of local mutation captured by a change entry.
type Operation string

const (
	// OpCreate records a newly created local record.
	OpCreate Operation = "create"

	// OpUpdate records a modification of an existing local record.
	OpUpdate Operation = "update"

	// OpDelete records a local deletion. Data holds the last known
	// snapshot so the upload phase can identify the remote row.
	OpDelete Operation = "delete"
)

// IsValid returns true if the operation is recognized.
func (o Operation) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// ChangeEntry is a tracked local mutation awaiting upload. At most one
// entry exists per record id per entity type; a later mutation overwrites
// the earlier entry, so only the latest state is ever uploaded.
type ChangeEntry struct {
	// ID is the mutated record's id.
	ID string `json:"id"`

	// Operation is the latest mutation kind for this record.
	Operation Operation `json:"operation"`

	// Data is the record snapshot at mutation time.
	Data Record `json:"data"`

	// Timestamp is when the mutation was tracked.
	Timestamp time.Time `json:"timestamp"`

	// Synced is true once the upload phase has pushed this entry.
	Synced bool `json:"synced"`

	// SyncedAt is when the entry was marked synced, nil while pending.
	SyncedAt *time.Time `json:"syncedAt,omitempty"`
}
