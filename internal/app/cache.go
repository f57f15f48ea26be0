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
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/switchyard/internal/config"
)

// cacheKey identifies an app instance. config.Config is a flat
// comparable value type, so equal configurations map to the same key.
type cacheKey struct {
	cfg       config.Config
	ephemeral bool
}

// Cache hands out app instances keyed by configuration and the
// ephemeral flag. Repeated lookups with an equal key return the
// identical instance; no liveness check is performed on hits.
type Cache struct {
	logger *slog.Logger

	mu      sync.Mutex
	apps    map[cacheKey]*App
	builds  map[cacheKey]*sync.Mutex
	timeout time.Duration
}

// NewCache creates an instance cache.
func NewCache(logger *slog.Logger) *Cache {
	return &Cache{
		logger:  logger,
		apps:    make(map[cacheKey]*App),
		builds:  make(map[cacheKey]*sync.Mutex),
		timeout: 30 * time.Second,
	}
}

// GetOrBuild returns the cached instance for (cfg, opts.Ephemeral),
// building one on a miss. Builds for the same key are serialized so
// concurrent callers share one instance. With forceRebuild, a fresh
// instance replaces the cached one and the superseded instance is shut
// down best-effort.
func (c *Cache) GetOrBuild(cfg config.Config, opts BuildOptions, forceRebuild bool) (*App, error) {
	key := cacheKey{cfg: cfg, ephemeral: opts.Ephemeral}

	c.mu.Lock()
	keyMu, ok := c.builds[key]
	if !ok {
		keyMu = &sync.Mutex{}
		c.builds[key] = keyMu
	}
	c.mu.Unlock()

	keyMu.Lock()
	defer keyMu.Unlock()

	c.mu.Lock()
	existing, hit := c.apps[key]
	c.mu.Unlock()

	if hit && !forceRebuild {
		return existing, nil
	}

	app, err := Build(cfg, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.apps[key] = app
	c.mu.Unlock()

	if hit {
		// The superseded instance would otherwise leak its services
		// and storage handle.
		go c.retire(existing)
	}
	return app, nil
}

// retire shuts a superseded instance down, logging failures.
func (c *Cache) retire(old *App) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := old.Shutdown(ctx); err != nil {
		c.logger.Error("failed to shut down superseded instance", slog.Any("error", err))
	}
}

// Clear drops every cached instance without shutting it down. Intended
// for tests that manage instance lifecycles themselves.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps = make(map[cacheKey]*App)
	c.builds = make(map[cacheKey]*sync.Mutex)
}
