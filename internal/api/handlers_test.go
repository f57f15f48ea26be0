// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/storage"
)

func setupTestAPI(t *testing.T) (*Router, *storage.Store) {
	t.Helper()
	return setupTestAPIConfig(t, config.Default())
}

func setupTestAPIConfig(t *testing.T, cfg config.Config) (*Router, *storage.Store) {
	t.Helper()

	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.EnsureSchemaCurrent(context.Background()); err != nil {
		t.Fatalf("EnsureSchemaCurrent() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := NewRegistry(DefaultGroups(store, cfg, "test", logger))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	router := NewRouter(RouterConfig{APIPrefix: "/api", HealthPath: "/api/health", Version: "test"}, logger)
	router.MountGroups(reg)
	return router, store
}

func doJSON(t *testing.T, router *Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := setupTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "true" {
		t.Errorf("body = %q, want the JSON literal true", got)
	}
}

func TestPipelines_CreateAndGet(t *testing.T) {
	router, _ := setupTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/pipelines/", `{"name":"etl-nightly","description":"nightly ETL"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var created storage.Pipeline
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Error("created pipeline has no ID")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/pipelines/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}

	// Duplicate name is a 409
	rec = doJSON(t, router, http.MethodPost, "/api/pipelines/", `{"name":"etl-nightly"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	// Missing name is a 422 with the body echoed
	rec = doJSON(t, router, http.MethodPost, "/api/pipelines/", `{"description":"nameless"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid status = %d, want 422", rec.Code)
	}
	var fault map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&fault); err != nil {
		t.Fatalf("decode fault: %v", err)
	}
	if !strings.Contains(fault["body"], "nameless") {
		t.Errorf("fault body = %q, want request body echoed", fault["body"])
	}

	// Unknown ID is a 404
	rec = doJSON(t, router, http.MethodGet, "/api/pipelines/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestRuns_Lifecycle(t *testing.T) {
	router, _ := setupTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/pipelines/", `{"name":"p1"}`)
	var pipeline storage.Pipeline
	if err := json.NewDecoder(rec.Body).Decode(&pipeline); err != nil {
		t.Fatalf("decode pipeline: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/runs/", `{"pipeline_id":"`+pipeline.ID+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create run status = %d: %s", rec.Code, rec.Body.String())
	}
	var run storage.Run
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.State != storage.StateScheduled {
		t.Errorf("State = %s, want SCHEDULED", run.State)
	}

	// Unknown pipeline FK is a 409
	rec = doJSON(t, router, http.MethodPost, "/api/runs/", `{"pipeline_id":"no-such-pipeline"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("bad FK status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/runs/"+run.ID+"/set_state", `{"state":"RUNNING"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set_state status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated storage.Run
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("decode updated run: %v", err)
	}
	if updated.State != storage.StateRunning {
		t.Errorf("State = %s, want RUNNING", updated.State)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/runs/"+run.ID+"/set_state", `{"state":"NONSENSE"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad state status = %d, want 422", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/runs/?state=RUNNING", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var runs []storage.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("len(runs) = %d, want 1", len(runs))
	}
}

func TestRuns_SetStateQueuesNotification(t *testing.T) {
	cfg := config.Default()
	cfg.Services.Notifications.WebhookURL = "http://127.0.0.1:1/hook"
	router, store := setupTestAPIConfig(t, cfg)

	rec := doJSON(t, router, http.MethodPost, "/api/pipelines/", `{"name":"p1"}`)
	var pipeline storage.Pipeline
	if err := json.NewDecoder(rec.Body).Decode(&pipeline); err != nil {
		t.Fatalf("decode pipeline: %v", err)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/runs/", `{"pipeline_id":"`+pipeline.ID+`"}`)
	var run storage.Run
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v", err)
	}

	// RUNNING is not a notified state
	rec = doJSON(t, router, http.MethodPost, "/api/runs/"+run.ID+"/set_state", `{"state":"RUNNING"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set_state status = %d: %s", rec.Code, rec.Body.String())
	}
	pending, err := store.PendingNotifications(context.Background(), 10)
	if err != nil {
		t.Fatalf("PendingNotifications() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("len(pending) = %d after RUNNING, want 0", len(pending))
	}

	rec = doJSON(t, router, http.MethodPost, "/api/runs/"+run.ID+"/set_state", `{"state":"FAILED"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set_state status = %d: %s", rec.Code, rec.Body.String())
	}
	pending, err = store.PendingNotifications(context.Background(), 10)
	if err != nil {
		t.Fatalf("PendingNotifications() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d after FAILED, want 1", len(pending))
	}
	if pending[0].RunID != run.ID || pending[0].State != storage.StateFailed {
		t.Errorf("notification = %+v, want run %s in FAILED", pending[0], run.ID)
	}
	if pending[0].WebhookURL != cfg.Services.Notifications.WebhookURL {
		t.Errorf("WebhookURL = %s, want configured hook", pending[0].WebhookURL)
	}
}

func TestDeployments_CronValidated(t *testing.T) {
	router, _ := setupTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/pipelines/", `{"name":"p1"}`)
	var pipeline storage.Pipeline
	if err := json.NewDecoder(rec.Body).Decode(&pipeline); err != nil {
		t.Fatalf("decode pipeline: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/deployments/",
		`{"pipeline_id":"`+pipeline.ID+`","name":"nightly","cron":"0 2 * * *"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/deployments/",
		`{"pipeline_id":"`+pipeline.ID+`","name":"broken","cron":"not a cron"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad cron status = %d, want 422", rec.Code)
	}
}

func TestWorkQueues_PauseResume(t *testing.T) {
	router, _ := setupTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/work_queues/", `{"name":"default"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var q storage.WorkQueue
	if err := json.NewDecoder(rec.Body).Decode(&q); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/work_queues/"+q.ID+"/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	var paused storage.WorkQueue
	if err := json.NewDecoder(rec.Body).Decode(&paused); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !paused.Paused {
		t.Error("Paused = false after pause")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/work_queues/"+q.ID+"/resume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/work_queues/"+q.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}

func TestAdmin(t *testing.T) {
	router, store := setupTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/admin/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("version status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `"test"` {
		t.Errorf("version = %s, want \"test\"", got)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/admin/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("settings status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "test.db") {
		t.Error("settings response leaked the database path")
	}

	if err := store.CreatePipeline(context.Background(), storage.Pipeline{
		ID: "p1", Name: "doomed", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreatePipeline() error = %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/admin/database/clear", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", rec.Code)
	}
	pipelines, err := store.ListPipelines(context.Background())
	if err != nil {
		t.Fatalf("ListPipelines() error = %v", err)
	}
	if len(pipelines) != 0 {
		t.Errorf("len(pipelines) = %d after clear, want 0", len(pipelines))
	}
}

func TestRouter_CorrelationHeader(t *testing.T) {
	router, _ := setupTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/health", "")
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("response missing X-Correlation-ID header")
	}
}

func TestRouter_MetricsInstrumentRequests(t *testing.T) {
	router, _ := setupTestAPI(t)

	p, err := metrics.NewProvider("test", "dev")
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Shutdown(context.Background())
	router.SetMetricsProvider(p)

	if rec := doJSON(t, router, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Error("scrape output missing http_requests_total; requests not instrumented through the router chain")
	}
}

func TestRouter_OverriddenGroupServed(t *testing.T) {
	router, store := setupTestAPI(t)
	_ = router

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := NewRegistry(DefaultGroups(store, config.Default(), "test", logger))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	// Replace /admin with a superset that adds an endpoint.
	admin := NewAdminHandler(store, config.Default(), "test", logger).Group()
	admin.Endpoints = append(admin.Endpoints, Endpoint{
		Method: http.MethodGet,
		Path:   "/extra",
		Handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
	})
	if err := reg.ApplyOverrides(map[string]*RouteGroup{"/admin": &admin}); err != nil {
		t.Fatalf("ApplyOverrides() error = %v", err)
	}

	fresh := NewRouter(RouterConfig{APIPrefix: "/api", HealthPath: "/api/health"}, logger)
	fresh.MountGroups(reg)

	rec := doJSON(t, fresh, http.MethodGet, "/api/admin/extra", "")
	if rec.Code != http.StatusTeapot {
		t.Errorf("override endpoint status = %d, want 418", rec.Code)
	}
	rec = doJSON(t, fresh, http.MethodGet, "/api/admin/version", "")
	if rec.Code != http.StatusOK {
		t.Errorf("original endpoint status = %d, want 200", rec.Code)
	}
}
