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

// Package storage provides SQLite-backed persistence for pipelines, runs,
// deployments, block types and the notification queue.
package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when an insert or update violates a unique
	// or foreign key constraint.
	ErrConflict = errors.New("storage: constraint conflict")

	// ErrAlreadyExists is returned when registering a block type that is
	// already present. It wraps ErrConflict so callers can match either.
	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrConflict)
)

// Run states. A run is created SCHEDULED (by the scheduler or an API call
// with a scheduled start), moves to RUNNING when picked up, and ends in one
// of the terminal states. LATE is a scheduled run whose start time passed
// without pickup.
const (
	StateScheduled = "SCHEDULED"
	StateLate      = "LATE"
	StateRunning   = "RUNNING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
)

// Pipeline is a named unit of orchestrated work.
type Pipeline struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Deployment binds a pipeline to a cron schedule.
type Deployment struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipeline_id"`
	Name       string    `json:"name"`
	Cron       string    `json:"cron"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkQueue is a named bucket workers poll for runs. Pausing a queue
// stops it from handing out work without deleting it.
type WorkQueue struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Paused           bool      `json:"paused"`
	ConcurrencyLimit int       `json:"concurrency_limit,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Run is a single execution of a pipeline.
type Run struct {
	ID           string     `json:"id"`
	PipelineID   string     `json:"pipeline_id"`
	DeploymentID string     `json:"deployment_id,omitempty"`
	State        string     `json:"state"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BlockType is a statically-declared capability descriptor persisted so the
// API can enumerate the block kinds this server understands.
type BlockType struct {
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	LogoURL          string    `json:"logo_url,omitempty"`
	DocumentationURL string    `json:"documentation_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Notification is a queued run-state notification awaiting dispatch.
type Notification struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	State      string     `json:"state"`
	Message    string     `json:"message"`
	WebhookURL string     `json:"webhook_url"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}
