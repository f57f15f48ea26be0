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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/storage"
)

// LateMarker flags scheduled runs whose start time has passed the
// grace window without pickup.
type LateMarker struct {
	store    *storage.Store
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLateMarker creates a late-run marker service. The stop channel
// exists from construction so a stop request issued before the loop is
// scheduled still takes effect.
func NewLateMarker(store *storage.Store, cfg config.LateRunsConfig, logger *slog.Logger) *LateMarker {
	return &LateMarker{
		store:    store,
		interval: cfg.Interval,
		grace:    cfg.Grace,
		logger:   logger.With(slog.String("component", "late-marker")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Name implements supervisor.Service.
func (m *LateMarker) Name() string { return "late-marker" }

// Start runs the marking loop until Stop is called or ctx is cancelled.
func (m *LateMarker) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("late marker already running")
	}
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		case now := <-ticker.C:
			cutoff := now.UTC().Add(-m.grace)
			marked, err := m.store.MarkLateRuns(ctx, cutoff)
			if err != nil {
				m.logger.Error("late-run pass failed", slog.Any("error", err))
				continue
			}
			if marked > 0 {
				m.logger.Info("marked runs late", slog.Int64("count", marked))
			}
		}
	}
}

// Stop signals the loop to exit, then waits for it to wind down when
// one is in flight. A stop issued before Start makes Start a no-op.
func (m *LateMarker) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	started := m.running
	m.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-m.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
