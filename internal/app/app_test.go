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

package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/supervisor"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	// Long intervals so service loops stay idle during tests.
	cfg.Services.Scheduler.Interval = time.Hour
	cfg.Services.LateRuns.Interval = time.Hour
	cfg.Services.Notifications.Interval = time.Hour
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildAndStart(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(cfg, BuildOptions{Version: "test", Logger: testLogger()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer app.Shutdown(ctx)

	// Startup registered the block descriptors.
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/blocks/types", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("blocks status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "webhook") {
		t.Error("block types not registered at startup")
	}

	// Health is served at the configured path.
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	// Default config enables scheduler, late runs and notifications.
	states := app.ServiceStates()
	if len(states) != 3 {
		t.Fatalf("len(states) = %d, want 3: %v", len(states), states)
	}
	for name, state := range states {
		if state != supervisor.Running {
			t.Errorf("state[%s] = %s, want running", name, state)
		}
	}
}

func TestBuild_Ephemeral_NoServicesNoUI(t *testing.T) {
	cfg := testConfig(t)
	cfg.UI.Enabled = true
	cfg.UI.StaticDir = t.TempDir()

	app, err := Build(cfg, BuildOptions{Ephemeral: true, Version: "test", Logger: testLogger()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer app.Shutdown(ctx)

	if states := app.ServiceStates(); len(states) != 0 {
		t.Errorf("ephemeral ServiceStates() = %v, want empty", states)
	}

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui-settings", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("ui-settings status = %d, want 404 on ephemeral instance", rec.Code)
	}

	// The API surface itself is unchanged.
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestBuild_AbortsOnOverrideViolation(t *testing.T) {
	cfg := testConfig(t)

	// A replacement that drops routes from /admin must fail the build.
	replacement := &api.RouteGroup{
		Prefix: "/admin",
		Endpoints: []api.Endpoint{
			{Method: http.MethodGet, Path: "/hello", Handler: func(w http.ResponseWriter, r *http.Request) {}},
		},
	}

	_, err := Build(cfg, BuildOptions{
		Version:        "test",
		Logger:         testLogger(),
		RouteOverrides: map[string]*api.RouteGroup{"/admin": replacement},
	})

	var regErr *api.CapabilityRegressionError
	if !errors.As(err, &regErr) {
		t.Fatalf("Build() error = %v, want *api.CapabilityRegressionError", err)
	}
}

func TestBuild_OverrideDropsGroup(t *testing.T) {
	cfg := testConfig(t)

	app, err := Build(cfg, BuildOptions{
		Version:        "test",
		Logger:         testLogger(),
		Ephemeral:      true,
		RouteOverrides: map[string]*api.RouteGroup{"/admin": nil},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer app.Shutdown(ctx)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/version", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("dropped group status = %d, want 404", rec.Code)
	}
}

func TestShutdown_StopsServices(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(cfg, BuildOptions{Version: "test", Logger: testLogger()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	states := app.ServiceStates()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(states) == 0 {
		t.Fatal("no services were running before shutdown")
	}

	// After shutdown the handle is released.
	if got := app.ServiceStates(); len(got) != 0 {
		t.Errorf("ServiceStates() after shutdown = %v, want empty", got)
	}
}
