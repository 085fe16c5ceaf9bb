// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/rosterhq/rostersync/internal/engine"
	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/store"
)

// Handler implements the HTTP endpoints.
type Handler struct {
	store   store.Store
	manager *engine.Manager
}

// NewHandler creates the endpoint handler.
func NewHandler(s store.Store, manager *engine.Manager) *Handler {
	return &Handler{store: s, manager: manager}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type entityCtxKey struct{}

// RequireEntity validates the {entity} route parameter and stashes the
// parsed entity type in the request context.
func (h *Handler) RequireEntity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entity := models.EntityType(chi.URLParam(r, "entity"))
		if !entity.IsValid() {
			writeError(w, http.StatusNotFound, "unknown entity type")
			return
		}
		ctx := context.WithValue(r.Context(), entityCtxKey{}, entity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func entityFrom(r *http.Request) models.EntityType {
	entity, _ := r.Context().Value(entityCtxKey{}).(models.EntityType)
	return entity
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the local store must answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.GetAll(r.Context(), models.EntityVolunteers); err != nil {
		writeError(w, http.StatusServiceUnavailable, "local store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// SyncStatus returns the engine status: in-flight flag, pending change
// counts, and the durable sync state.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SyncTrigger queues a sync cycle. ?full=true forces a full sync;
// ?downloadOnly=true skips the upload phase.
func (h *Handler) SyncTrigger(w http.ResponseWriter, r *http.Request) {
	opts := engine.SyncOptions{
		ForceFull:    r.URL.Query().Get("full") == "true",
		DownloadOnly: r.URL.Query().Get("downloadOnly") == "true",
	}
	h.manager.TriggerSync(opts)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":       true,
		"forceFull":    opts.ForceFull,
		"downloadOnly": opts.DownloadOnly,
	})
}

// SyncReset discards the durable sync state.
func (h *Handler) SyncReset(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset sync state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ListRecords returns every record of the entity collection.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.GetAll(r.Context(), entityFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read records")
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetRecord returns one record by id.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), entityFrom(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func decodeRecord(r *http.Request) (models.Record, error) {
	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateRecord inserts a new record. The mutation is tracked for upload.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record payload")
		return
	}

	created, err := h.store.Add(r.Context(), entityFrom(r), rec)
	if errors.Is(err, store.ErrDuplicateID) {
		writeError(w, http.StatusConflict, "record id already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create record")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRecord merges the payload into an existing record.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record payload")
		return
	}

	updated, err := h.store.Update(r.Context(), entityFrom(r), chi.URLParam(r, "id"), patch)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update record")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRecord removes a record.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), entityFrom(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
