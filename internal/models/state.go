// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package models

import "time"

// SyncStats holds cumulative counters across the lifetime of the sync state.
// Counters only grow; LastError is overwritten by each failure and cleared
// by an explicit reset, never by a subsequent success.
type SyncStats struct {
	TotalSyncs        int    `json:"totalSyncs"`
	SuccessfulSyncs   int    `json:"successfulSyncs"`
	FailedSyncs       int    `json:"failedSyncs"`
	UploadedRecords   int    `json:"uploadedRecords"`
	DownloadedRecords int    `json:"downloadedRecords"`
	ConflictsResolved int    `json:"conflictsResolved"`
	LastError         string `json:"lastError,omitempty"`
}

// SyncState is the durable record of synchronization progress. It survives
// process restarts; losing it is safe but forces a full resync.
type SyncState struct {
	// LastSync maps entity types to their last successful sync time.
	// A nil/absent entry means the entity has never been synced.
	LastSync map[EntityType]*time.Time `json:"lastSync"`

	// RemoteNonEmpty records, per entity, whether the previous sync
	// observed a populated remote range. Used by the remote-change
	// heuristic: the remote store exposes no modification feed, so a
	// populated range is treated as a download signal.
	RemoteNonEmpty map[EntityType]bool `json:"remoteNonEmpty"`

	// Stats are the cumulative counters.
	Stats SyncStats `json:"stats"`
}

// NewSyncState returns an empty sync state with initialized maps.
func NewSyncState() *SyncState {
	return &SyncState{
		LastSync:       make(map[EntityType]*time.Time),
		RemoteNonEmpty: make(map[EntityType]bool),
	}
}

// LastSyncFor returns the last successful sync time for an entity,
// or the zero time if the entity has never synced.
func (s *SyncState) LastSyncFor(entity EntityType) time.Time {
	if t := s.LastSync[entity]; t != nil {
		return *t
	}
	return time.Time{}
}

// OldestSync returns the oldest last-sync time across all entities, or the
// zero time if any entity has never synced. Strategy selection treats the
// whole dataset as stale when the oldest entity is stale.
func (s *SyncState) OldestSync() time.Time {
	var oldest time.Time
	for i, entity := range AllEntities() {
		t := s.LastSync[entity]
		if t == nil {
			return time.Time{}
		}
		if i == 0 || t.Before(oldest) {
			oldest = *t
		}
	}
	return oldest
}
