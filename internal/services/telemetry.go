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

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/switchyard/internal/config"
)

// Telemetry posts a periodic anonymous heartbeat to a configurable
// sink. Delivery failures are logged and never fatal.
type Telemetry struct {
	endpoint string
	interval time.Duration
	version  string
	session  string
	started  time.Time
	client   *http.Client
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTelemetry creates a telemetry heartbeat service. The session ID is
// fresh per process.
func NewTelemetry(cfg config.TelemetryConfig, version string, logger *slog.Logger) *Telemetry {
	return &Telemetry{
		endpoint: cfg.Endpoint,
		interval: cfg.Interval,
		version:  version,
		session:  uuid.New().String(),
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(slog.String("component", "telemetry")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Name implements supervisor.Service.
func (t *Telemetry) Name() string { return "telemetry" }

// Start sends one heartbeat immediately, then one per interval, until
// Stop is called or ctx is cancelled.
func (t *Telemetry) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("telemetry already running")
	}
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.started = time.Now()
	t.mu.Unlock()

	defer close(t.doneCh)

	t.heartbeat(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.stopCh:
			return nil
		case <-ticker.C:
			t.heartbeat(ctx)
		}
	}
}

// Stop signals the loop to exit, then waits for it to wind down when
// one is in flight. A stop issued before Start makes Start a no-op.
func (t *Telemetry) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	close(t.stopCh)
	started := t.running
	t.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Telemetry) heartbeat(ctx context.Context) {
	payload, err := json.Marshal(map[string]any{
		"session":        t.session,
		"version":        t.version,
		"uptime_seconds": int64(time.Since(t.started).Seconds()),
	})
	if err != nil {
		t.logger.Error("failed to encode heartbeat", slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		t.logger.Warn("failed to build heartbeat request", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("heartbeat failed", slog.Any("error", err))
		return
	}
	resp.Body.Close()
}
