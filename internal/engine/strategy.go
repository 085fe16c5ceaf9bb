// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"fmt"
	"time"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/models"
)

// Selector chooses a sync strategy from the current sync state and the
// pending change volume. Selection is purely threshold-driven; tuning
// happens through configuration, never code.
type Selector struct {
	cfg config.SyncConfig
	now func() time.Time
}

// NewSelector creates a strategy selector.
func NewSelector(cfg config.SyncConfig) *Selector {
	return &Selector{cfg: cfg, now: time.Now}
}

// Plan determines the strategy for one sync cycle.
//
// Precedence, highest first:
//  1. forceFull       -> full
//  2. never synced    -> full
//  3. stale last sync -> full
//  4. nothing to do   -> none
//  5. small change set-> delta
//  6. otherwise       -> smart (per-entity delta or full)
func (s *Selector) Plan(state *models.SyncState, changes map[models.EntityType][]models.ChangeEntry, forceFull bool) *models.SyncPlan {
	total := 0
	for _, entries := range changes {
		total += len(entries)
	}

	switch {
	case forceFull:
		return s.fullPlan(changes, "full sync requested")

	case state.OldestSync().IsZero():
		return s.fullPlan(changes, "first sync")

	case s.daysSinceOldest(state) > s.cfg.FullSyncDays:
		return s.fullPlan(changes, fmt.Sprintf("last sync %d days ago exceeds %d-day limit",
			s.daysSinceOldest(state), s.cfg.FullSyncDays))

	case total == 0 && !anyRemoteSignal(state):
		return &models.SyncPlan{
			Type:     models.PlanNone,
			Reason:   "no local changes and no remote activity",
			Entities: map[models.EntityType]models.EntityPlan{},
		}

	case total < s.cfg.DeltaThreshold:
		return s.deltaPlan(state, changes, total)

	default:
		return s.smartPlan(state, changes, total)
	}
}

func (s *Selector) daysSinceOldest(state *models.SyncState) int {
	return int(s.now().UTC().Sub(state.OldestSync()).Hours() / 24)
}

// anyRemoteSignal reports whether any entity may have remote-side changes.
// The remote store has no modification feed, so the heuristic is: an
// entity whose range was populated at the previous sync, or one never
// synced at all, may have changed.
func anyRemoteSignal(state *models.SyncState) bool {
	for _, entity := range models.AllEntities() {
		if state.LastSync[entity] == nil || state.RemoteNonEmpty[entity] {
			return true
		}
	}
	return false
}

func (s *Selector) fullPlan(changes map[models.EntityType][]models.ChangeEntry, reason string) *models.SyncPlan {
	plan := &models.SyncPlan{
		Type:     models.PlanFull,
		Reason:   reason,
		Entities: make(map[models.EntityType]models.EntityPlan, len(models.AllEntities())),
	}
	for _, entity := range models.AllEntities() {
		plan.Entities[entity] = models.EntityPlan{
			Upload:     changes[entity],
			FullUpload: true,
			Download:   true,
		}
	}
	return plan
}

func (s *Selector) deltaPlan(state *models.SyncState, changes map[models.EntityType][]models.ChangeEntry, total int) *models.SyncPlan {
	plan := &models.SyncPlan{
		Type:     models.PlanDelta,
		Reason:   fmt.Sprintf("%d pending changes below threshold %d", total, s.cfg.DeltaThreshold),
		Entities: make(map[models.EntityType]models.EntityPlan),
	}
	for _, entity := range models.AllEntities() {
		ep := models.EntityPlan{
			Upload:   changes[entity],
			Download: state.LastSync[entity] == nil || state.RemoteNonEmpty[entity],
		}
		if len(ep.Upload) == 0 && !ep.Download {
			continue
		}
		plan.Entities[entity] = ep
	}
	return plan
}

// smartPlan mixes strategies per entity: entities carrying a small share
// of the change volume sync as delta, heavy entities as full.
func (s *Selector) smartPlan(state *models.SyncState, changes map[models.EntityType][]models.ChangeEntry, total int) *models.SyncPlan {
	perEntityThreshold := s.cfg.DeltaThreshold / 3
	if perEntityThreshold < 1 {
		perEntityThreshold = 1
	}

	plan := &models.SyncPlan{
		Type:     models.PlanSmart,
		Reason:   fmt.Sprintf("%d pending changes at or above threshold %d", total, s.cfg.DeltaThreshold),
		Entities: make(map[models.EntityType]models.EntityPlan),
	}
	for _, entity := range models.AllEntities() {
		entries := changes[entity]
		if len(entries) >= perEntityThreshold {
			plan.Entities[entity] = models.EntityPlan{
				Upload:     entries,
				FullUpload: true,
				Download:   true,
			}
			continue
		}
		ep := models.EntityPlan{
			Upload:   entries,
			Download: state.LastSync[entity] == nil || state.RemoteNonEmpty[entity],
		}
		if len(ep.Upload) == 0 && !ep.Download {
			continue
		}
		plan.Entities[entity] = ep
	}
	return plan
}
