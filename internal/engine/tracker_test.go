// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/store"
)

// trackerFactories builds each ChangeTracker implementation so the
// contract tests cover both.
func trackerFactories(t *testing.T) map[string]func(t *testing.T) ChangeTracker {
	t.Helper()
	return map[string]func(t *testing.T) ChangeTracker{
		"badger": func(t *testing.T) ChangeTracker {
			db, err := store.OpenBadger(t.TempDir())
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			t.Cleanup(func() {
				_ = db.Close()
			})
			return NewBadgerTracker(db)
		},
		"memory": func(t *testing.T) ChangeTracker {
			return NewMemoryTracker()
		},
	}
}

func rec(id string) models.Record {
	return models.Record{models.FieldID: id, "name": "n-" + id}
}

func TestTrackerCapturesLatestState(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()

			if err := tr.Track(ctx, models.EntityVolunteers, models.OpCreate, rec("v1")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			updated := rec("v1")
			updated["name"] = "renamed"
			if err := tr.Track(ctx, models.EntityVolunteers, models.OpUpdate, updated); err != nil {
				t.Fatalf("Track: %v", err)
			}

			entries, err := tr.Unsynced(ctx, models.EntityVolunteers)
			if err != nil {
				t.Fatalf("Unsynced: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1 (latest state only)", len(entries))
			}
			// An unsynced create stays a create: the row still needs
			// an append, not an overwrite.
			if entries[0].Operation != models.OpCreate {
				t.Errorf("operation = %s, want create", entries[0].Operation)
			}
			if entries[0].Data["name"] != "renamed" {
				t.Errorf("data = %v, want latest snapshot", entries[0].Data)
			}
		})
	}
}

func TestTrackerCreateThenDeleteCancelsOut(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()

			if err := tr.Track(ctx, models.EntityEvents, models.OpCreate, rec("e1")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			if err := tr.Track(ctx, models.EntityEvents, models.OpDelete, rec("e1")); err != nil {
				t.Fatalf("Track: %v", err)
			}

			entries, err := tr.Unsynced(ctx, models.EntityEvents)
			if err != nil {
				t.Fatalf("Unsynced: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("entries = %d, want 0 (never reached remote)", len(entries))
			}
		})
	}
}

func TestTrackerDeleteThenCreateBecomesUpdate(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()

			if err := tr.Track(ctx, models.EntityEvents, models.OpDelete, rec("e1")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			if err := tr.Track(ctx, models.EntityEvents, models.OpCreate, rec("e1")); err != nil {
				t.Fatalf("Track: %v", err)
			}

			entries, err := tr.Unsynced(ctx, models.EntityEvents)
			if err != nil {
				t.Fatalf("Unsynced: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			// The remote row still exists; overwrite it.
			if entries[0].Operation != models.OpUpdate {
				t.Errorf("operation = %s, want update", entries[0].Operation)
			}
		})
	}
}

func TestTrackerUnsyncedSinceFiltersByTimestamp(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()

			if err := tr.Track(ctx, models.EntityVolunteers, models.OpCreate, rec("v1")); err != nil {
				t.Fatalf("Track: %v", err)
			}

			past := time.Now().UTC().Add(-time.Minute)
			entries, err := tr.UnsyncedSince(ctx, models.EntityVolunteers, past)
			if err != nil {
				t.Fatalf("UnsyncedSince: %v", err)
			}
			if len(entries) != 1 {
				t.Errorf("entries since past = %d, want 1", len(entries))
			}

			future := time.Now().UTC().Add(time.Minute)
			entries, err = tr.UnsyncedSince(ctx, models.EntityVolunteers, future)
			if err != nil {
				t.Fatalf("UnsyncedSince: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("entries since future = %d, want 0", len(entries))
			}

			// The zero time means no filter.
			entries, err = tr.UnsyncedSince(ctx, models.EntityVolunteers, time.Time{})
			if err != nil {
				t.Fatalf("UnsyncedSince: %v", err)
			}
			if len(entries) != 1 {
				t.Errorf("entries since zero = %d, want 1", len(entries))
			}
		})
	}
}

func TestTrackerResetClearsEverything(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()

			if err := tr.Track(ctx, models.EntityVolunteers, models.OpCreate, rec("v1")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			if err := tr.Track(ctx, models.EntityEvents, models.OpCreate, rec("e1")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			if err := tr.MarkSynced(ctx, models.EntityEvents, []string{"e1"}, time.Now().UTC()); err != nil {
				t.Fatalf("MarkSynced: %v", err)
			}

			if err := tr.Reset(ctx); err != nil {
				t.Fatalf("Reset: %v", err)
			}

			for _, entity := range models.AllEntities() {
				entries, err := tr.Unsynced(ctx, entity)
				if err != nil {
					t.Fatalf("Unsynced %s: %v", entity, err)
				}
				if len(entries) != 0 {
					t.Errorf("%s entries = %d, want 0 after reset", entity, len(entries))
				}
			}

			// Synced entries are gone too: nothing left for cleanup.
			removed, err := tr.CleanupOlderThan(ctx, time.Now().UTC().Add(time.Hour))
			if err != nil {
				t.Fatalf("CleanupOlderThan: %v", err)
			}
			if removed != 0 {
				t.Errorf("cleanup removed %d entries after reset, want 0", removed)
			}
		})
	}
}

func TestTrackerMarkSyncedIsIdempotent(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()
			now := time.Now().UTC()

			if err := tr.Track(ctx, models.EntityVolunteers, models.OpCreate, rec("v1")); err != nil {
				t.Fatalf("Track: %v", err)
			}

			for i := 0; i < 3; i++ {
				if err := tr.MarkSynced(ctx, models.EntityVolunteers, []string{"v1", "absent"}, now); err != nil {
					t.Fatalf("MarkSynced pass %d: %v", i, err)
				}
			}

			entries, err := tr.Unsynced(ctx, models.EntityVolunteers)
			if err != nil {
				t.Fatalf("Unsynced: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("entries = %d, want 0 after MarkSynced", len(entries))
			}
		})
	}
}

func TestTrackerSeparatesEntities(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()

			if err := tr.Track(ctx, models.EntityVolunteers, models.OpCreate, rec("x1")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			if err := tr.Track(ctx, models.EntityAttendance, models.OpCreate, rec("x1")); err != nil {
				t.Fatalf("Track: %v", err)
			}

			vols, err := tr.Unsynced(ctx, models.EntityVolunteers)
			if err != nil {
				t.Fatalf("Unsynced: %v", err)
			}
			att, err := tr.Unsynced(ctx, models.EntityAttendance)
			if err != nil {
				t.Fatalf("Unsynced: %v", err)
			}
			if len(vols) != 1 || len(att) != 1 {
				t.Errorf("vols = %d, att = %d, want 1 and 1", len(vols), len(att))
			}
		})
	}
}

func TestTrackerCleanupKeepsUnsynced(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			ctx := context.Background()
			longAgo := time.Now().UTC().AddDate(0, 0, -30)

			if err := tr.Track(ctx, models.EntityVolunteers, models.OpCreate, rec("synced")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			if err := tr.Track(ctx, models.EntityVolunteers, models.OpCreate, rec("pending")); err != nil {
				t.Fatalf("Track: %v", err)
			}
			if err := tr.MarkSynced(ctx, models.EntityVolunteers, []string{"synced"}, longAgo); err != nil {
				t.Fatalf("MarkSynced: %v", err)
			}

			cutoff := time.Now().UTC().AddDate(0, 0, -7)
			removed, err := tr.CleanupOlderThan(ctx, cutoff)
			if err != nil {
				t.Fatalf("CleanupOlderThan: %v", err)
			}
			if removed != 1 {
				t.Errorf("removed = %d, want 1", removed)
			}

			entries, err := tr.Unsynced(ctx, models.EntityVolunteers)
			if err != nil {
				t.Fatalf("Unsynced: %v", err)
			}
			if len(entries) != 1 || entries[0].ID != "pending" {
				t.Errorf("unsynced entry should survive cleanup regardless of age: %v", entries)
			}
		})
	}
}

func TestTrackerRejectsRecordWithoutID(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			tr := factory(t)
			err := tr.Track(context.Background(), models.EntityVolunteers, models.OpCreate, models.Record{"name": "nameless"})
			if err == nil {
				t.Error("expected error for record without id")
			}
		})
	}
}

func TestTrackMutationsSubscribesStore(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	tr := NewMemoryTracker()
	TrackMutations(s, tr)

	ctx := context.Background()
	added, err := s.Add(ctx, models.EntityVolunteers, models.Record{"name": "Ada"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	entries, err := tr.Unsynced(ctx, models.EntityVolunteers)
	if err != nil {
		t.Fatalf("Unsynced: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != added.ID() {
		t.Fatalf("entries = %v, want tracked create for %s", entries, added.ID())
	}

	// Reconciliation writes must not be tracked.
	if err := s.Apply(ctx, models.EntityVolunteers, models.Record{models.FieldID: "remote-1", "name": "Grace"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	entries, err = tr.Unsynced(ctx, models.EntityVolunteers)
	if err != nil {
		t.Fatalf("Unsynced: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1 (Apply must not be tracked)", len(entries))
	}
}
