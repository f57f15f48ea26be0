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

// Package app assembles the server out of its pluggable pieces: route
// groups (with overrides), the UI mount, storage, metrics and the
// supervised background services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/internal/blocks"
	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/services"
	"github.com/tombee/switchyard/internal/storage"
	"github.com/tombee/switchyard/internal/supervisor"
)

// BuildOptions control how Build assembles an App.
type BuildOptions struct {
	// Ephemeral builds a strict subset for in-process use: no UI mount
	// and no background services, regardless of config flags.
	Ephemeral bool

	// RouteOverrides replace or drop default route groups by prefix.
	// Replacements must cover every route the default group serves.
	RouteOverrides map[string]*api.RouteGroup

	// Version is reported by the version and telemetry surfaces.
	Version string

	// Logger overrides the ambient logger. Nil uses the env-configured
	// default.
	Logger *slog.Logger
}

// App is a fully assembled server instance. Build wires it together;
// Start runs its startup actions; Shutdown winds it down.
type App struct {
	cfg       config.Config
	ephemeral bool
	version   string
	logger    *slog.Logger

	store    *storage.Store
	router   *api.Router
	metrics  *metrics.Provider
	services []supervisor.Service

	mu      sync.Mutex
	started bool
	handle  *supervisor.Handle
}

// Build assembles an App from configuration. The route registry is
// built from the fixed default group list, overrides are validated and
// applied, and the build aborts on any override validation error.
// Build does not run startup actions; call Start.
func Build(cfg config.Config, opts BuildOptions) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.FromEnv())
	}

	store, err := storage.Open(storage.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	registry, err := api.NewRegistry(api.DefaultGroups(store, cfg, opts.Version, logger))
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := registry.ApplyOverrides(opts.RouteOverrides); err != nil {
		store.Close()
		return nil, fmt.Errorf("route overrides rejected: %w", err)
	}

	provider, err := metrics.NewProvider("switchyard", opts.Version)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIPrefix:  cfg.Server.APIPrefix,
		HealthPath: cfg.Server.HealthPath,
		Version:    opts.Version,
	}, logger)
	router.MountGroups(registry)
	router.SetMetricsProvider(provider)

	if !opts.Ephemeral && cfg.UI.Enabled && cfg.UI.StaticDir != "" {
		if _, err := os.Stat(cfg.UI.StaticDir); err == nil {
			router.MountUI(cfg.UI.StaticDir, cfg.UI.APIURL)
		} else {
			logger.Warn("UI static directory missing, UI not mounted",
				slog.String("dir", cfg.UI.StaticDir))
		}
	}

	app := &App{
		cfg:       cfg,
		ephemeral: opts.Ephemeral,
		version:   opts.Version,
		logger:    logger,
		store:     store,
		router:    router,
		metrics:   provider,
	}

	// Ephemeral instances keep an empty service set; everything else
	// follows the per-service enable flags.
	if !opts.Ephemeral {
		svcCfg := cfg.Services
		if svcCfg.Scheduler.Enabled {
			app.services = append(app.services,
				services.NewScheduler(store, svcCfg.Scheduler, logger))
		}
		if svcCfg.LateRuns.Enabled {
			app.services = append(app.services,
				services.NewLateMarker(store, svcCfg.LateRuns, logger))
		}
		if svcCfg.Notifications.Enabled {
			app.services = append(app.services,
				services.NewNotifier(store, svcCfg.Notifications, logger))
		}
		if svcCfg.Telemetry.Enabled {
			app.services = append(app.services,
				services.NewTelemetry(svcCfg.Telemetry, opts.Version, logger))
		}
	}

	return app, nil
}

// Handler returns the HTTP surface of the app.
func (a *App) Handler() http.Handler {
	return a.router
}

// Store exposes the persistence layer for in-process (ephemeral) use.
func (a *App) Store() *storage.Store {
	return a.store
}

// Ephemeral reports whether the instance was built without UI and
// services.
func (a *App) Ephemeral() bool {
	return a.ephemeral
}

// Start runs the startup actions strictly in sequence: ensure the
// schema is current, register block descriptors, then launch the
// supervised services. The app is ready only once Start returns nil.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started")
	}

	if a.cfg.Database.MigrateOnStart {
		if err := a.store.EnsureSchemaCurrent(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	if err := blocks.RegisterAll(ctx, a.store, a.logger); err != nil {
		return fmt.Errorf("register blocks: %w", err)
	}

	a.handle = supervisor.Start(ctx, a.logger, a.metrics, a.services)
	if len(a.services) > 0 {
		a.logger.Info("services started", slog.Int("count", len(a.services)))
	}

	a.started = true
	return nil
}

// Shutdown stops the services and releases storage and metrics.
// Service stop errors are logged, not raised; resource release errors
// are returned.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	handle := a.handle
	a.handle = nil
	a.started = false
	a.mu.Unlock()

	if handle != nil {
		if err := handle.Stop(ctx); err != nil {
			a.logger.Error("service shutdown reported errors", slog.Any("error", err))
		} else {
			a.logger.Info("services stopped")
		}
	}

	var errs []error
	if err := a.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

// ServiceStates exposes the supervised task states. Before Start, and
// for ephemeral instances, the map is empty.
func (a *App) ServiceStates() map[string]supervisor.TaskState {
	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()
	if handle == nil {
		return map[string]supervisor.TaskState{}
	}
	return handle.States()
}
