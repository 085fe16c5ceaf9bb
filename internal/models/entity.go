// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package models defines the roster data model shared by the local store,
// the sync engine, and the HTTP surface: entity types, records, change
// entries, sync state, and sync plans.
package models

// EntityType identifies one of the synchronized roster collections.
type EntityType string

const (
	// EntityVolunteers is the volunteer roster collection.
	EntityVolunteers EntityType = "volunteers"

	// EntityEvents is the event calendar collection.
	EntityEvents EntityType = "events"

	// EntityAttendance is the attendance record collection.
	EntityAttendance EntityType = "attendance"
)

// AllEntities returns every synchronized entity type in canonical order.
// The order is stable so that sync phases and emitted events are deterministic.
func AllEntities() []EntityType {
	return []EntityType{EntityVolunteers, EntityEvents, EntityAttendance}
}

// IsValid returns true if the entity type is recognized.
func (e EntityType) IsValid() bool {
	switch e {
	case EntityVolunteers, EntityEvents, EntityAttendance:
		return true
	default:
		return false
	}
}

// String returns the string representation of the entity type.
func (e EntityType) String() string {
	return string(e)
}

// EntityDescriptor describes how one entity type maps onto the remote
// tabular range: the remote column order, which fields are mandatory before
// upload, and per-field validation rules.
//
// Descriptors replace per-entity switch blocks: every component that needs
// entity-specific behavior iterates the table generically.
type EntityDescriptor struct {
	// Type is the entity this descriptor applies to.
	Type EntityType

	// Range is the remote named range holding this entity's rows.
	// Row 1 of the range is a header row; data rows begin at row 2.
	Range string

	// Columns is the remote column order. Columns[0] is always "id"
	// (column A carries the record id).
	Columns []string

	// Required lists the fields that must be present and non-empty
	// before a record may be uploaded.
	Required []string

	// FieldRules maps field names to validator tags applied before
	// upload (e.g. "email", "datetime=2006-01-02").
	FieldRules map[string]string
}

// descriptors is the per-entity mapping table. Column order here defines the
// remote sheet layout and must not be reordered without migrating the sheet.
var descriptors = map[EntityType]EntityDescriptor{
	EntityVolunteers: {
		Type:     EntityVolunteers,
		Range:    "Volunteers",
		Columns:  []string{FieldID, "name", "email", "phone", FieldCreatedAt, FieldUpdatedAt, FieldSyncedAt},
		Required: []string{FieldID, "name"},
		FieldRules: map[string]string{
			"email": "omitempty,email",
		},
	},
	EntityEvents: {
		Type:     EntityEvents,
		Range:    "Events",
		Columns:  []string{FieldID, "name", "date", "startTime", "endTime", "location", "description", FieldCreatedAt, FieldUpdatedAt, FieldSyncedAt},
		Required: []string{FieldID, "name", "date"},
		FieldRules: map[string]string{
			"date":      "datetime=2006-01-02",
			"startTime": "omitempty,datetime=15:04",
			"endTime":   "omitempty,datetime=15:04",
		},
	},
	EntityAttendance: {
		Type:     EntityAttendance,
		Range:    "Attendance",
		Columns:  []string{FieldID, "volunteerId", "eventId", "date", "checkInTime", "status", FieldCreatedAt, FieldUpdatedAt, FieldSyncedAt},
		Required: []string{FieldID, "volunteerId", "eventId", "date"},
		FieldRules: map[string]string{
			"date":        "datetime=2006-01-02",
			"checkInTime": "omitempty,datetime=15:04",
		},
	},
}

// DescriptorFor returns the descriptor for the given entity type.
// The second return value is false for unrecognized types.
func DescriptorFor(entity EntityType) (EntityDescriptor, bool) {
	d, ok := descriptors[entity]
	return d, ok
}
