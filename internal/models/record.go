// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package models

import "time"

// Well-known record fields present on every entity type.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldSyncedAt  = "syncedAt"
)

// TimestampFormat is the canonical timestamp encoding for record fields:
// RFC 3339 in UTC. All timestamps are normalized to this format on write.
const TimestampFormat = time.RFC3339

// Record is a single roster record: a flat field-to-value mapping with a
// required unique "id" and entity-specific fields per EntityDescriptor.
// Values are stored as strings because the remote backing store is purely
// tabular; typed interpretation happens at the edges.
type Record map[string]string

// ID returns the record's unique identifier, or "" if absent.
func (r Record) ID() string {
	return r[FieldID]
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// UpdatedAt returns the parsed updatedAt timestamp. The zero time is
// returned when the field is missing or unparsable, which sorts older
// than any real timestamp and therefore loses last-writer-wins comparisons.
func (r Record) UpdatedAt() time.Time {
	ts, _ := ParseTimestamp(r[FieldUpdatedAt])
	return ts
}

// NowTimestamp returns the current UTC time in the canonical record format.
func NowTimestamp() string {
	return time.Now().UTC().Format(TimestampFormat)
}

// FormatTimestamp renders t in the canonical record format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses a canonical record timestamp. The boolean reports
// whether the value parsed cleanly; callers that must not fail substitute
// their own fallback (typically "now" for inbound remote data).
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(TimestampFormat, s)
	if err != nil {
		// Tolerate fractional seconds from writers that include them.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t.UTC(), true
}
