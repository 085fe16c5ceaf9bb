// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/engine"
	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/store"
	"github.com/rosterhq/rostersync/internal/tabular"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	s := store.NewMemoryStore()
	tracker := engine.NewMemoryTracker()
	states := engine.NewMemoryStateStore()

	cfg := config.SyncConfig{
		Interval:       time.Minute,
		FullSyncDays:   7,
		DeltaThreshold: 50,
		BatchSize:      100,
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
		RetentionDays:  7,
	}
	exec := engine.NewExecutor(cfg, engine.Deps{
		Store:   s,
		Tracker: tracker,
		Remote:  tabular.NewMemory(),
		Creds:   tabular.StaticCredentials{Token: "tok"},
		States:  states,
	})
	manager := engine.NewManager(cfg, exec, tracker, states, nil)

	srv := httptest.NewServer(NewRouter(s, manager).Setup())
	t.Cleanup(srv.Close)
	return srv, s
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestRecordCRUD(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1/volunteers"

	// Create
	resp := doJSON(t, http.MethodPost, base+"/", models.Record{"name": "Ada"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decodeBody[models.Record](t, resp)
	if created.ID() == "" {
		t.Fatal("created record has no id")
	}
	if created[models.FieldCreatedAt] == "" || created[models.FieldUpdatedAt] == "" {
		t.Error("timestamps not stamped on create")
	}

	// Read
	resp = doJSON(t, http.MethodGet, base+"/"+created.ID(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// Update
	resp = doJSON(t, http.MethodPut, base+"/"+created.ID(), models.Record{"name": "Ada L."})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	updated := decodeBody[models.Record](t, resp)
	if updated["name"] != "Ada L." {
		t.Errorf("name = %q", updated["name"])
	}

	// List
	resp = doJSON(t, http.MethodGet, base+"/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	records := decodeBody[[]models.Record](t, resp)
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}

	// Delete
	resp = doJSON(t, http.MethodDelete, base+"/"+created.ID(), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, base+"/"+created.ID(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestUnknownEntityRejected(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/managers/", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetMissingRecord(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/events/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["error"] == "" {
		t.Error("error body missing")
	}
}

func TestCreateDuplicateID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1/volunteers/"

	rec := models.Record{models.FieldID: "v1", "name": "Ada"}
	if resp := doJSON(t, http.MethodPost, base, rec); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodPost, base, rec); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	t.Parallel()

	srv, s := newTestServer(t)
	if _, err := s.Add(t.Context(), models.EntityVolunteers, models.Record{"name": "Ada"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	status := decodeBody[engine.Status](t, resp)
	if status.Syncing {
		t.Error("no sync should be running")
	}
	if status.State == nil {
		t.Error("state missing from status")
	}
}

func TestSyncTriggerEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/trigger?full=true", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["queued"] != true || body["forceFull"] != true || body["downloadOnly"] != false {
		t.Errorf("body = %v", body)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/trigger?downloadOnly=true", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body = decodeBody[map[string]any](t, resp)
	if body["queued"] != true || body["forceFull"] != false || body["downloadOnly"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestSyncResetEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready"} {
		resp := doJSON(t, http.MethodGet, srv.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
