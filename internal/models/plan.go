// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package models

import "time"

// PlanType is the sync strategy chosen for one engine invocation.
type PlanType string

const (
	// PlanNone skips the sync entirely: nothing changed on either side.
	PlanNone PlanType = "none"

	// PlanDelta uploads only tracked changes and downloads only entities
	// flagged by the remote-change heuristic.
	PlanDelta PlanType = "delta"

	// PlanSmart chooses delta or full per entity type based on that
	// entity's share of the change volume.
	PlanSmart PlanType = "smart"

	// PlanFull uploads all local records and downloads all remote rows
	// for every entity type.
	PlanFull PlanType = "full"
)

// EntityPlan describes what one entity type contributes to a sync cycle.
type EntityPlan struct {
	// Upload is the set of change entries to push, in tracking order.
	Upload []ChangeEntry

	// FullUpload forces uploading every local record for this entity
	// regardless of tracked changes (full and smart-full modes).
	FullUpload bool

	// Download is true when remote rows should be pulled and reconciled.
	Download bool
}

// SyncPlan is the strategy selector's output for a single invocation.
type SyncPlan struct {
	// Type is the overall strategy.
	Type PlanType

	// Reason is a human-readable explanation of why this strategy
	// was chosen; surfaced in logs and the sync result.
	Reason string

	// Entities maps each participating entity to its plan. Entities
	// absent from the map do not participate in this cycle.
	Entities map[EntityType]EntityPlan
}

// TotalUploads returns the number of change entries queued across entities.
func (p *SyncPlan) TotalUploads() int {
	total := 0
	for _, ep := range p.Entities {
		total += len(ep.Upload)
	}
	return total
}

// SyncResult is the outcome of one engine invocation.
type SyncResult struct {
	// Success is false only for hard failures: prerequisite failures
	// or unclassified errors. Per-entity failures leave Success true
	// with a populated Errors list.
	Success bool `json:"success"`

	// Reason is set when the sync did not run at all
	// (e.g. "already_syncing").
	Reason string `json:"reason,omitempty"`

	// Plan is the strategy that was executed.
	Plan PlanType `json:"plan,omitempty"`

	// PlanReason explains the strategy choice.
	PlanReason string `json:"planReason,omitempty"`

	// Uploaded counts records pushed per entity type.
	Uploaded map[EntityType]int `json:"uploaded,omitempty"`

	// Downloaded counts records pulled and reconciled per entity type.
	Downloaded map[EntityType]int `json:"downloaded,omitempty"`

	// Conflicts counts download-phase records where the remote version
	// overwrote a differing local version.
	Conflicts int `json:"conflicts"`

	// Errors collects per-entity failures that did not abort the sync.
	Errors []string `json:"errors,omitempty"`

	// StartedAt and Duration describe the sync window.
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}
