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

// Package services contains the supervised background services:
// run scheduling, late-run marking, notification dispatch and the
// telemetry heartbeat.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/cron"
	"github.com/tombee/switchyard/internal/storage"
)

// Scheduler materializes upcoming runs for enabled deployment
// schedules. Each pass scans deployments and inserts scheduled runs up
// to the configured horizon.
type Scheduler struct {
	store    *storage.Store
	interval time.Duration
	horizon  time.Duration
	maxRuns  int
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler service. The stop channel exists
// from construction so a stop request issued before the loop is
// scheduled still takes effect.
func NewScheduler(store *storage.Store, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		interval: cfg.Interval,
		horizon:  cfg.Horizon,
		maxRuns:  cfg.MaxRunsPerSchedule,
		logger:   logger.With(slog.String("component", "scheduler")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Name implements supervisor.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start runs the scheduling loop until Stop is called or ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case now := <-ticker.C:
			if err := s.tick(ctx, now.UTC()); err != nil {
				s.logger.Error("scheduling pass failed", slog.Any("error", err))
			}
		}
	}
}

// Stop signals the loop to exit, then waits for it to wind down when
// one is in flight. A stop issued before Start makes Start a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	started := s.running
	s.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick materializes runs for every enabled deployment.
func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	deployments, err := s.store.ListDeployments(ctx, true)
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}

	for _, d := range deployments {
		if err := s.materialize(ctx, d, now); err != nil {
			s.logger.Error("failed to schedule runs",
				slog.String("deployment", d.ID),
				slog.Any("error", err))
		}
	}
	return nil
}

// materialize inserts scheduled runs for one deployment from its last
// materialized instant up to the horizon, capped at maxRuns per pass.
func (s *Scheduler) materialize(ctx context.Context, d storage.Deployment, now time.Time) error {
	schedule, err := cron.Parse(d.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", d.Cron, err)
	}

	from := now
	latest, err := s.store.LatestScheduledFor(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("latest scheduled instant: %w", err)
	}
	if latest.After(from) {
		from = latest
	}

	horizon := now.Add(s.horizon)
	for i := 0; i < s.maxRuns; i++ {
		next := schedule.Next(from)
		if next.IsZero() || next.After(horizon) {
			return nil
		}

		run := storage.Run{
			ID:           uuid.New().String(),
			PipelineID:   d.PipelineID,
			DeploymentID: d.ID,
			State:        storage.StateScheduled,
			ScheduledFor: &next,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := s.store.CreateRun(ctx, run)
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			// A conflict means another pass already materialized this
			// instant; anything else is a real failure.
			return fmt.Errorf("create run at %s: %w", next, err)
		}
		from = next
	}
	return nil
}
