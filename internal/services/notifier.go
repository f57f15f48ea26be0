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

	"golang.org/x/time/rate"

	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/storage"
)

// Notifier drains the queued run-state notifications and posts them to
// their webhooks. Failed deliveries stay queued and are retried on a
// later pass.
type Notifier struct {
	store     *storage.Store
	interval  time.Duration
	batchSize int
	limiter   *rate.Limiter
	client    *http.Client
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewNotifier creates a notification dispatch service. The stop
// channel exists from construction so a stop request issued before the
// loop is scheduled still takes effect.
func NewNotifier(store *storage.Store, cfg config.NotificationsConfig, logger *slog.Logger) *Notifier {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	return &Notifier{
		store:     store,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(limit, 1),
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With(slog.String("component", "notifier")),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Name implements supervisor.Service.
func (n *Notifier) Name() string { return "notifier" }

// Start runs the dispatch loop until Stop is called or ctx is
// cancelled.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("notifier already running")
	}
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.running = true
	n.mu.Unlock()

	defer close(n.doneCh)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.stopCh:
			return nil
		case <-ticker.C:
			if err := n.drain(ctx); err != nil {
				n.logger.Error("notification pass failed", slog.Any("error", err))
			}
		}
	}
}

// Stop signals the loop to exit, then waits for it to wind down when
// one is in flight. A stop issued before Start makes Start a no-op.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	close(n.stopCh)
	started := n.running
	n.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-n.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain dispatches up to one batch of pending notifications.
func (n *Notifier) drain(ctx context.Context) error {
	pending, err := n.store.PendingNotifications(ctx, n.batchSize)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, notification := range pending {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := n.deliver(ctx, notification); err != nil {
			n.logger.Warn("notification delivery failed",
				slog.String("notification", notification.ID),
				slog.Int("attempts", notification.Attempts+1),
				slog.Any("error", err))
			if err := n.store.RecordNotificationAttempt(ctx, notification.ID); err != nil {
				return fmt.Errorf("record attempt: %w", err)
			}
			continue
		}

		if err := n.store.MarkNotificationSent(ctx, notification.ID); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
	}
	return nil
}

// deliver posts one notification to its webhook.
func (n *Notifier) deliver(ctx context.Context, notification storage.Notification) error {
	payload, err := json.Marshal(map[string]string{
		"run_id":  notification.RunID,
		"state":   notification.State,
		"message": notification.Message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		notification.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
