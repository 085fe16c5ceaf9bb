// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package engine implements the synchronization engine: change tracking,
// strategy selection, upload/download execution against the remote tabular
// store, durable sync state, and retry with error classification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/metrics"
	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/store"
	"github.com/rosterhq/rostersync/internal/tabular"
)

// Deps bundles the collaborators an Executor needs. Events is optional;
// everything else is required.
type Deps struct {
	Store   store.Store
	Tracker ChangeTracker
	Remote  tabular.RemoteTable
	Creds   tabular.CredentialSource
	States  StateStore
	Events  *EventBus
}

// Executor runs sync cycles. At most one cycle runs at a time; overlapping
// invocations return immediately with reason "already_syncing".
type Executor struct {
	cfg         config.SyncConfig
	store       store.Store
	tracker     ChangeTracker
	remote      tabular.RemoteTable
	creds       tabular.CredentialSource
	states      StateStore
	events      *EventBus
	selector    *Selector
	transformer *Transformer
	retrier     *Retrier

	inFlight atomic.Bool
	now      func() time.Time
}

// NewExecutor creates a sync executor.
func NewExecutor(cfg config.SyncConfig, deps Deps) *Executor {
	return &Executor{
		cfg:         cfg,
		store:       deps.Store,
		tracker:     deps.Tracker,
		remote:      deps.Remote,
		creds:       deps.Creds,
		states:      deps.States,
		events:      deps.Events,
		selector:    NewSelector(cfg),
		transformer: NewTransformer(),
		retrier:     NewRetrier(cfg),
		now:         time.Now,
	}
}

// Syncing reports whether a sync cycle is currently running.
func (e *Executor) Syncing() bool {
	return e.inFlight.Load()
}

// SyncOptions adjusts a single sync cycle.
type SyncOptions struct {
	// ForceFull runs a full sync regardless of strategy selection.
	ForceFull bool

	// DownloadOnly skips the upload phase. Tracked local changes stay
	// pending and upload on the next regular cycle.
	DownloadOnly bool
}

func (e *Executor) publish(suffix string, payload any) {
	if e.events != nil {
		e.events.Publish(suffix, payload)
	}
}

// PerformSync runs one sync cycle. Retryable failures are retried with
// exponential backoff up to the configured attempt count; the returned
// result is never nil.
func (e *Executor) PerformSync(ctx context.Context, opts SyncOptions) *models.SyncResult {
	if !e.inFlight.CompareAndSwap(false, true) {
		metrics.ObserveSkippedSync()
		return &models.SyncResult{Success: false, Reason: "already_syncing"}
	}
	defer e.inFlight.Store(false)

	started := e.now().UTC()
	e.publish(TopicSyncStarted, SyncStartedEvent{
		ForceFull:    opts.ForceFull,
		DownloadOnly: opts.DownloadOnly,
		StartedAt:    started,
	})
	logging.Info().
		Bool("force_full", opts.ForceFull).
		Bool("download_only", opts.DownloadOnly).
		Msg("Sync cycle started")

	var result *models.SyncResult
	err := e.retrier.Do(ctx, "sync", func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = e.attempt(ctx, opts, started)
		return attemptErr
	})

	duration := e.now().UTC().Sub(started)
	if err != nil {
		result = &models.SyncResult{
			Success:   false,
			Errors:    []string{err.Error()},
			StartedAt: started,
			Duration:  duration,
		}
		e.recordOutcome(ctx, result)
		e.publish(TopicSyncFailed, SyncFailedEvent{Error: err.Error(), StartedAt: started})
		metrics.ObserveSync(string(result.Plan), false, duration)
		logging.Error().Err(err).Dur("duration", duration).Msg("Sync cycle failed")
		return result
	}

	result.Duration = duration
	e.recordOutcome(ctx, result)
	e.publish(TopicSyncCompleted, SyncCompletedEvent{Result: result})
	metrics.ObserveSync(string(result.Plan), result.Success, duration)
	logging.Info().
		Str("plan", string(result.Plan)).
		Str("plan_reason", result.PlanReason).
		Int("conflicts", result.Conflicts).
		Int("errors", len(result.Errors)).
		Dur("duration", duration).
		Msg("Sync cycle completed")
	return result
}

// recordOutcome folds a finished cycle into the durable stats.
func (e *Executor) recordOutcome(ctx context.Context, result *models.SyncResult) {
	state, err := e.states.Load(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load sync state for stats update")
		return
	}

	state.Stats.TotalSyncs++
	if result.Success {
		state.Stats.SuccessfulSyncs++
	} else {
		state.Stats.FailedSyncs++
		if len(result.Errors) > 0 {
			state.Stats.LastError = result.Errors[0]
		}
	}
	for _, n := range result.Uploaded {
		state.Stats.UploadedRecords += n
	}
	for _, n := range result.Downloaded {
		state.Stats.DownloadedRecords += n
	}
	state.Stats.ConflictsResolved += result.Conflicts

	if err := e.states.Save(ctx, state); err != nil {
		logging.Error().Err(err).Msg("Failed to persist sync stats")
	}
}

// attempt runs a single sync attempt: prerequisites, strategy selection,
// upload, then download. Returned errors feed the retry classifier.
func (e *Executor) attempt(ctx context.Context, opts SyncOptions, started time.Time) (*models.SyncResult, error) {
	if !e.creds.IsAuthenticated() {
		if err := e.creds.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("authentication unavailable: %w", err)
		}
	}
	if !remoteConfigured(e.remote) {
		return nil, errors.New("remote store not configured")
	}
	if err := e.remote.Ping(ctx); err != nil {
		return nil, fmt.Errorf("remote store unreachable: %w", err)
	}

	state, err := e.states.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	changes := make(map[models.EntityType][]models.ChangeEntry)
	for _, entity := range models.AllEntities() {
		entries, err := e.tracker.Unsynced(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("read pending changes for %s: %w", entity, err)
		}
		changes[entity] = entries
		metrics.PendingChanges.WithLabelValues(entity.String()).Set(float64(len(entries)))
	}

	plan := e.selector.Plan(state, changes, opts.ForceFull)
	result := &models.SyncResult{
		Success:    true,
		Plan:       plan.Type,
		PlanReason: plan.Reason,
		Uploaded:   make(map[models.EntityType]int),
		Downloaded: make(map[models.EntityType]int),
		StartedAt:  started,
	}

	if plan.Type == models.PlanNone {
		result.Reason = "no_changes"
		return result, nil
	}

	syncTime := e.now().UTC()
	participating, failed := 0, 0
	var firstErr error

	for _, entity := range models.AllEntities() {
		ep, ok := plan.Entities[entity]
		if !ok {
			continue
		}
		participating++

		desc, ok := models.DescriptorFor(entity)
		if !ok {
			continue
		}

		if err := e.syncEntity(ctx, desc, ep, state, result, syncTime, opts.DownloadOnly); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entity, err))
			logging.Error().Err(err).Str("entity", entity.String()).Msg("Entity sync failed")
			continue
		}

		ts := syncTime
		state.LastSync[entity] = &ts
	}

	// All entities failing is a whole-attempt failure and may be retried;
	// partial failure is isolation working as intended.
	if participating > 0 && failed == participating {
		return nil, fmt.Errorf("all entities failed: %w", firstErr)
	}

	if err := e.states.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("persist sync state: %w", err)
	}
	return result, nil
}

// syncEntity runs the upload then download phases for one entity.
func (e *Executor) syncEntity(ctx context.Context, desc models.EntityDescriptor, ep models.EntityPlan, state *models.SyncState, result *models.SyncResult, syncTime time.Time, downloadOnly bool) error {
	if !downloadOnly && (len(ep.Upload) > 0 || ep.FullUpload) {
		if err := e.uploadEntity(ctx, desc, ep, state, result, syncTime); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
	}
	if ep.Download {
		if err := e.downloadEntity(ctx, desc, ep, state, result, syncTime); err != nil {
			return fmt.Errorf("download: %w", err)
		}
	}
	return nil
}

// uploadEntity pushes local data to the remote range. New records are
// appended in batches; existing rows are overwritten in place; deletes
// blank the remote row. A remote row strictly newer than the local record
// wins instead: it is applied locally and the local change is dropped.
func (e *Executor) uploadEntity(ctx context.Context, desc models.EntityDescriptor, ep models.EntityPlan, state *models.SyncState, result *models.SyncResult, syncTime time.Time) error {
	remoteRows, err := e.remote.ReadRange(ctx, desc.Range)
	if err != nil {
		return fmt.Errorf("read range %s: %w", desc.Range, err)
	}

	// Map record ids to their 1-based sheet row. Row 1 is the header.
	rowIndex := make(map[string]int, len(remoteRows))
	remoteByID := make(map[string]tabular.Row, len(remoteRows))
	for i, row := range remoteRows {
		if i == 0 {
			continue
		}
		if id := row.ID(); id != "" {
			rowIndex[id] = i + 1
			remoteByID[id] = row
		}
	}

	if len(remoteRows) == 0 {
		if err := e.remote.WriteRange(ctx, desc.Range, 1, []tabular.Row{HeaderRow(desc)}); err != nil {
			return fmt.Errorf("write header for %s: %w", desc.Range, err)
		}
	}

	uploaded := 0

	// Deletes first: blank the remote row so a full upload of the same
	// cycle cannot resurrect it. Deleting an absent row is a no-op but
	// still marks the entry synced.
	for _, entry := range ep.Upload {
		if entry.Operation != models.OpDelete {
			continue
		}
		if rowNum, ok := rowIndex[entry.ID]; ok {
			blank := make(tabular.Row, len(desc.Columns))
			if err := e.remote.WriteRange(ctx, desc.Range, rowNum, []tabular.Row{blank}); err != nil {
				return fmt.Errorf("delete row for %s: %w", entry.ID, err)
			}
			delete(rowIndex, entry.ID)
			delete(remoteByID, entry.ID)
			uploaded++
		}
		if err := e.tracker.MarkSynced(ctx, desc.Type, []string{entry.ID}, syncTime); err != nil {
			return fmt.Errorf("mark delete synced: %w", err)
		}
	}

	// Collect the upsert set: every local record for a full upload,
	// otherwise just the tracked creates and updates.
	var upserts []models.Record
	if ep.FullUpload {
		all, err := e.store.GetAll(ctx, desc.Type)
		if err != nil {
			return fmt.Errorf("read local records: %w", err)
		}
		upserts = all
	} else {
		for _, entry := range ep.Upload {
			if entry.Operation == models.OpDelete {
				continue
			}
			// Prefer the live record over the tracked snapshot; the
			// store may have newer data than the change entry.
			rec, err := e.store.Get(ctx, desc.Type, entry.ID)
			if errors.Is(err, store.ErrNotFound) {
				rec = entry.Data
			} else if err != nil {
				return fmt.Errorf("read local record %s: %w", entry.ID, err)
			}
			upserts = append(upserts, rec)
		}
	}

	var appendRows []tabular.Row
	var appendIDs []string

	flushAppends := func() error {
		if len(appendRows) == 0 {
			return nil
		}
		if err := e.remote.AppendRows(ctx, desc.Range, appendRows); err != nil {
			return fmt.Errorf("append rows: %w", err)
		}
		uploaded += len(appendRows)
		if err := e.tracker.MarkSynced(ctx, desc.Type, appendIDs, syncTime); err != nil {
			return fmt.Errorf("mark appends synced: %w", err)
		}
		appendRows = appendRows[:0]
		appendIDs = appendIDs[:0]
		return nil
	}

	for _, rec := range upserts {
		id := rec.ID()
		if id == "" {
			continue
		}

		// Last-writer-wins guard: a strictly newer remote row beats the
		// local version. Adopt it locally and drop the local change.
		if remoteRow, ok := remoteByID[id]; ok {
			if remoteRec, err := e.transformer.FromRow(desc, remoteRow); err == nil {
				if remoteRec.UpdatedAt().After(rec.UpdatedAt()) {
					if err := e.store.Apply(ctx, desc.Type, remoteRec); err != nil {
						return fmt.Errorf("apply remote winner %s: %w", id, err)
					}
					if err := e.tracker.MarkSynced(ctx, desc.Type, []string{id}, syncTime); err != nil {
						return fmt.Errorf("mark conflict synced: %w", err)
					}
					result.Conflicts++
					metrics.ConflictsResolved.Inc()
					continue
				}
			}
		}

		stamped := rec.Clone()
		stamped[models.FieldSyncedAt] = models.FormatTimestamp(syncTime)

		row, err := e.transformer.ToRow(desc, stamped)
		if err != nil {
			// Bad records are skipped, not fatal; the entry stays
			// unsynced so a corrected record uploads next cycle.
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", desc.Type, id, err))
			logging.Warn().Err(err).Str("entity", desc.Type.String()).Str("id", id).Msg("Skipping record failing validation")
			continue
		}

		if rowNum, ok := rowIndex[id]; ok {
			if err := e.remote.WriteRange(ctx, desc.Range, rowNum, []tabular.Row{row}); err != nil {
				return fmt.Errorf("write row for %s: %w", id, err)
			}
			uploaded++
			if err := e.tracker.MarkSynced(ctx, desc.Type, []string{id}, syncTime); err != nil {
				return fmt.Errorf("mark write synced: %w", err)
			}
		} else {
			appendRows = append(appendRows, row)
			appendIDs = append(appendIDs, id)
			if len(appendRows) >= e.cfg.BatchSize {
				if err := flushAppends(); err != nil {
					return err
				}
			}
		}

		if err := e.store.Apply(ctx, desc.Type, stamped); err != nil {
			return fmt.Errorf("stamp synced record %s: %w", id, err)
		}
	}

	if err := flushAppends(); err != nil {
		return err
	}

	// Refresh the remote-change heuristic from this phase too: an
	// upload-only cycle must not leave the flag stale until the next
	// download. Rows this cycle appended count as populated.
	state.RemoteNonEmpty[desc.Type] = len(remoteRows) > 1 || uploaded > 0

	result.Uploaded[desc.Type] += uploaded
	metrics.UploadedRecords.WithLabelValues(desc.Type.String()).Add(float64(uploaded))
	return nil
}

// downloadEntity pulls the remote range and reconciles it into the local
// store with last-writer-wins: a strictly newer remote record overwrites,
// a tie or older remote record leaves the local version in place.
func (e *Executor) downloadEntity(ctx context.Context, desc models.EntityDescriptor, ep models.EntityPlan, state *models.SyncState, result *models.SyncResult, syncTime time.Time) error {
	rows, err := e.remote.ReadRange(ctx, desc.Range)
	if err != nil {
		return fmt.Errorf("read range %s: %w", desc.Range, err)
	}
	state.RemoteNonEmpty[desc.Type] = len(rows) > 1

	records, rowErrs := e.transformer.FromRows(desc, rows)
	for _, rerr := range rowErrs {
		result.Errors = append(result.Errors, fmt.Sprintf("%s download: %v", desc.Type, rerr))
	}

	pending := make(map[string]struct{}, len(ep.Upload))
	for _, entry := range ep.Upload {
		pending[entry.ID] = struct{}{}
	}

	downloaded := 0
	for _, remoteRec := range records {
		id := remoteRec.ID()

		local, err := e.store.Get(ctx, desc.Type, id)
		if errors.Is(err, store.ErrNotFound) {
			if err := e.store.Apply(ctx, desc.Type, remoteRec); err != nil {
				return fmt.Errorf("apply new record %s: %w", id, err)
			}
			downloaded++
			continue
		}
		if err != nil {
			return fmt.Errorf("read local record %s: %w", id, err)
		}

		if remoteRec.UpdatedAt().After(local.UpdatedAt()) {
			if err := e.store.Apply(ctx, desc.Type, remoteRec); err != nil {
				return fmt.Errorf("apply remote record %s: %w", id, err)
			}
			downloaded++
			if _, ok := pending[id]; ok {
				result.Conflicts++
				metrics.ConflictsResolved.Inc()
				if err := e.tracker.MarkSynced(ctx, desc.Type, []string{id}, syncTime); err != nil {
					return fmt.Errorf("mark conflict synced: %w", err)
				}
			}
		}
	}

	result.Downloaded[desc.Type] += downloaded
	metrics.DownloadedRecords.WithLabelValues(desc.Type.String()).Add(float64(downloaded))
	return nil
}

// remoteConfigured reports readiness when the remote client exposes it.
func remoteConfigured(remote tabular.RemoteTable) bool {
	type readiness interface{ Configured() bool }
	if r, ok := remote.(readiness); ok {
		return r.Configured()
	}
	return true
}
