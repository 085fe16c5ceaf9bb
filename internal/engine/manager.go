// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/store"
)

// cleanupInterval is how often synced change entries past retention are
// swept.
const cleanupInterval = time.Hour

// Status is a point-in-time view of the engine for the HTTP surface.
type Status struct {
	Syncing        bool                      `json:"syncing"`
	PendingChanges map[models.EntityType]int `json:"pendingChanges"`
	State          *models.SyncState         `json:"state"`
}

// Manager owns the engine lifecycle: periodic syncs, the shorter delta
// cadence while changes are pending, debounced sync-on-mutation, manual
// triggers, and retention cleanup. It runs as a suture service.
type Manager struct {
	cfg      config.SyncConfig
	executor *Executor
	tracker  ChangeTracker
	states   StateStore
	events   *EventBus

	trigger chan SyncOptions

	mu       sync.Mutex
	debounce *time.Timer
}

// NewManager creates a sync manager around an executor.
func NewManager(cfg config.SyncConfig, executor *Executor, tracker ChangeTracker, states StateStore, events *EventBus) *Manager {
	return &Manager{
		cfg:      cfg,
		executor: executor,
		tracker:  tracker,
		states:   states,
		events:   events,
		trigger:  make(chan SyncOptions, 1),
	}
}

// String names the service in supervisor logs.
func (m *Manager) String() string {
	return "sync-manager"
}

// WatchStore wires local mutations into the engine: every mutation is
// tracked for upload, and when sync-on-mutation is enabled a debounced
// sync is scheduled so bursts of edits collapse into one cycle.
func (m *Manager) WatchStore(s store.Store) {
	TrackMutations(s, m.tracker)

	if !m.cfg.SyncOnMutation {
		return
	}
	s.Subscribe(func(store.Mutation) {
		m.scheduleDebounced()
	})
}

func (m *Manager) scheduleDebounced() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(m.cfg.MutationDebounce, func() {
		m.TriggerSync(SyncOptions{})
	})
}

// TriggerSync requests a sync cycle. Non-blocking: when a trigger is
// already queued the request coalesces into it. The merged trigger is
// full when either request was, and download-only just when both were,
// so coalescing never narrows a queued request.
func (m *Manager) TriggerSync(opts SyncOptions) {
	select {
	case m.trigger <- opts:
	default:
		// Drain, merge, and re-queue so no flag is lost.
		select {
		case queued := <-m.trigger:
			opts.ForceFull = opts.ForceFull || queued.ForceFull
			opts.DownloadOnly = opts.DownloadOnly && queued.DownloadOnly
		default:
		}
		select {
		case m.trigger <- opts:
		default:
		}
	}
}

// Status reports the current engine state.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	state, err := m.states.Load(ctx)
	if err != nil {
		return nil, err
	}

	pending := make(map[models.EntityType]int, len(models.AllEntities()))
	for _, entity := range models.AllEntities() {
		entries, err := m.tracker.Unsynced(ctx, entity)
		if err != nil {
			return nil, err
		}
		pending[entity] = len(entries)
	}

	return &Status{
		Syncing:        m.executor.Syncing(),
		PendingChanges: pending,
		State:          state,
	}, nil
}

// Reset discards the durable sync state and all tracked change entries,
// forcing a full sync next cycle.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.states.Reset(ctx); err != nil {
		return err
	}
	if err := m.tracker.Reset(ctx); err != nil {
		return err
	}
	logging.Info().Msg("Sync state and change entries reset; next sync will be full")
	return nil
}

// Serve runs the engine loop until the context is canceled.
func (m *Manager) Serve(ctx context.Context) error {
	interval := time.NewTicker(m.cfg.Interval)
	defer interval.Stop()

	var deltaC <-chan time.Time
	if m.cfg.DeltaInterval > 0 {
		delta := time.NewTicker(m.cfg.DeltaInterval)
		defer delta.Stop()
		deltaC = delta.C
	}

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	logging.Info().
		Dur("interval", m.cfg.Interval).
		Dur("delta_interval", m.cfg.DeltaInterval).
		Msg("Sync manager started")

	for {
		select {
		case <-ctx.Done():
			m.stopDebounce()
			return ctx.Err()

		case <-interval.C:
			m.run(ctx, SyncOptions{})

		case <-deltaC:
			if m.hasPendingChanges(ctx) {
				m.run(ctx, SyncOptions{})
			}

		case opts := <-m.trigger:
			m.run(ctx, opts)

		case <-cleanup.C:
			m.cleanup(ctx)
		}
	}
}

func (m *Manager) stopDebounce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
}

func (m *Manager) hasPendingChanges(ctx context.Context) bool {
	for _, entity := range models.AllEntities() {
		entries, err := m.tracker.Unsynced(ctx, entity)
		if err != nil {
			logging.Warn().Err(err).Str("entity", entity.String()).Msg("Failed to count pending changes")
			continue
		}
		if len(entries) > 0 {
			return true
		}
	}
	return false
}

func (m *Manager) run(ctx context.Context, opts SyncOptions) {
	result := m.executor.PerformSync(ctx, opts)
	if m.events == nil {
		return
	}

	pending := 0
	for _, entity := range models.AllEntities() {
		if entries, err := m.tracker.Unsynced(ctx, entity); err == nil {
			pending += len(entries)
		}
	}

	event := StatusEvent{
		Syncing:        false,
		Online:         result.Success,
		PendingChanges: pending,
	}
	if state, err := m.states.Load(ctx); err == nil {
		event.LastSync = state.LastSync
		event.Stats = state.Stats
	}
	m.events.Publish(TopicStatus, event)
}

func (m *Manager) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	removed, err := m.tracker.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		logging.Warn().Err(err).Msg("Change entry cleanup failed")
		return
	}
	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("Cleaned up synced change entries past retention")
	}
}
