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

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed storage.
type Store struct {
	db *sql.DB
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// Open opens the database and verifies connectivity. The schema is not
// created here; EnsureSchemaCurrent runs as an explicit startup action.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Pragmas are per-connection, so they ride on the DSN rather than a
	// one-off Exec. WAL mode for better concurrency on file-backed databases.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	if cfg.Path == ":memory:" {
		// Every connection to :memory: is a distinct database.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchemaCurrent creates or updates the database schema. It is safe to
// call repeatedly; every statement is idempotent.
func (s *Store) EnsureSchemaCurrent(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			cron TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(pipeline_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
			deployment_id TEXT REFERENCES deployments(id) ON DELETE SET NULL,
			state TEXT NOT NULL,
			scheduled_for TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		// One materialized run per deployment per scheduled instant. A
		// second scheduler pass over the same window conflicts instead of
		// duplicating runs.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_deployment_scheduled
			ON runs(deployment_id, scheduled_for)
			WHERE deployment_id IS NOT NULL AND scheduled_for IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_runs_state_scheduled
			ON runs(state, scheduled_for)`,
		`CREATE TABLE IF NOT EXISTS work_queues (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			paused INTEGER NOT NULL DEFAULT 0,
			concurrency_limit INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS block_types (
			name TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			logo_url TEXT NOT NULL DEFAULT '',
			documentation_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			state TEXT NOT NULL,
			message TEXT NOT NULL,
			webhook_url TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			sent_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_pending
			ON notifications(created_at) WHERE sent_at IS NULL`,
	}

	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// isConstraintErr reports whether err is a SQLite constraint violation.
// The modernc driver surfaces these as "constraint failed" error text.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// --- pipelines ---

// CreatePipeline inserts a new pipeline.
func (s *Store) CreatePipeline(ctx context.Context, p Pipeline) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipelines (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt.UTC())
	if isConstraintErr(err) {
		return fmt.Errorf("pipeline %q: %w", p.Name, ErrConflict)
	}
	return err
}

// GetPipeline returns the pipeline with the given ID.
func (s *Store) GetPipeline(ctx context.Context, id string) (Pipeline, error) {
	var p Pipeline
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM pipelines WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return Pipeline{}, fmt.Errorf("pipeline %q: %w", id, ErrNotFound)
	}
	return p, err
}

// ListPipelines returns all pipelines ordered by name.
func (s *Store) ListPipelines(ctx context.Context) ([]Pipeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Pipeline
	for rows.Next() {
		var p Pipeline
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- deployments ---

// CreateDeployment inserts a new deployment.
func (s *Store) CreateDeployment(ctx context.Context, d Deployment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, pipeline_id, name, cron, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.PipelineID, d.Name, d.Cron, d.Enabled, d.CreatedAt.UTC())
	if isConstraintErr(err) {
		return fmt.Errorf("deployment %q: %w", d.Name, ErrConflict)
	}
	return err
}

// GetDeployment returns the deployment with the given ID.
func (s *Store) GetDeployment(ctx context.Context, id string) (Deployment, error) {
	var d Deployment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_id, name, cron, enabled, created_at FROM deployments WHERE id = ?`, id).
		Scan(&d.ID, &d.PipelineID, &d.Name, &d.Cron, &d.Enabled, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return Deployment{}, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	return d, err
}

// ListDeployments returns all deployments. When enabledOnly is set, disabled
// deployments are filtered out.
func (s *Store) ListDeployments(ctx context.Context, enabledOnly bool) ([]Deployment, error) {
	query := `SELECT id, pipeline_id, name, cron, enabled, created_at FROM deployments`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.PipelineID, &d.Name, &d.Cron, &d.Enabled, &d.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// --- runs ---

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	var deploymentID any
	if r.DeploymentID != "" {
		deploymentID = r.DeploymentID
	}
	var scheduledFor any
	if r.ScheduledFor != nil {
		scheduledFor = r.ScheduledFor.UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline_id, deployment_id, state, scheduled_for, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PipelineID, deploymentID, r.State, scheduledFor, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if isConstraintErr(err) {
		return fmt.Errorf("run %q: %w", r.ID, ErrConflict)
	}
	return err
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	var deploymentID sql.NullString
	var scheduledFor sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_id, deployment_id, state, scheduled_for, created_at, updated_at
		 FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.PipelineID, &deploymentID, &r.State, &scheduledFor, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Run{}, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}
	if deploymentID.Valid {
		r.DeploymentID = deploymentID.String
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		r.ScheduledFor = &t
	}
	return r, nil
}

// ListRuns returns runs, optionally filtered by pipeline and state, newest first.
func (s *Store) ListRuns(ctx context.Context, pipelineID, state string, limit int) ([]Run, error) {
	query := `SELECT id, pipeline_id, deployment_id, state, scheduled_for, created_at, updated_at FROM runs`
	var conds []string
	var args []any
	if pipelineID != "" {
		conds = append(conds, "pipeline_id = ?")
		args = append(args, pipelineID)
	}
	if state != "" {
		conds = append(conds, "state = ?")
		args = append(args, state)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		var r Run
		var deploymentID sql.NullString
		var scheduledFor sql.NullTime
		if err := rows.Scan(&r.ID, &r.PipelineID, &deploymentID, &r.State, &scheduledFor, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if deploymentID.Valid {
			r.DeploymentID = deploymentID.String
		}
		if scheduledFor.Valid {
			t := scheduledFor.Time
			r.ScheduledFor = &t
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// SetRunState updates a run's state.
func (s *Store) SetRunState(ctx context.Context, id, state string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return nil
}

// LatestScheduledFor returns the latest scheduled start already materialized
// for a deployment, or the zero time when none exists.
func (s *Store) LatestScheduledFor(ctx context.Context, deploymentID string) (time.Time, error) {
	var latest time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT scheduled_for FROM runs
		 WHERE deployment_id = ? AND scheduled_for IS NOT NULL
		 ORDER BY scheduled_for DESC LIMIT 1`, deploymentID).
		Scan(&latest)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return latest, nil
}

// MarkLateRuns flips SCHEDULED runs whose start time passed before the given
// cutoff to LATE and returns how many were affected.
func (s *Store) MarkLateRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ?
		 WHERE state = ? AND scheduled_for IS NOT NULL AND scheduled_for < ?`,
		StateLate, time.Now().UTC(), StateScheduled, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- work queues ---

// CreateWorkQueue inserts a new work queue.
func (s *Store) CreateWorkQueue(ctx context.Context, q WorkQueue) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_queues (id, name, description, paused, concurrency_limit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.Name, q.Description, q.Paused, q.ConcurrencyLimit, q.CreatedAt.UTC())
	if isConstraintErr(err) {
		return fmt.Errorf("work queue %q: %w", q.Name, ErrConflict)
	}
	return err
}

// GetWorkQueue returns the work queue with the given ID.
func (s *Store) GetWorkQueue(ctx context.Context, id string) (WorkQueue, error) {
	var q WorkQueue
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, paused, concurrency_limit, created_at
		 FROM work_queues WHERE id = ?`, id).
		Scan(&q.ID, &q.Name, &q.Description, &q.Paused, &q.ConcurrencyLimit, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return WorkQueue{}, fmt.Errorf("work queue %q: %w", id, ErrNotFound)
	}
	return q, err
}

// ListWorkQueues returns all work queues ordered by name.
func (s *Store) ListWorkQueues(ctx context.Context) ([]WorkQueue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, paused, concurrency_limit, created_at
		 FROM work_queues ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkQueue
	for rows.Next() {
		var q WorkQueue
		if err := rows.Scan(&q.ID, &q.Name, &q.Description, &q.Paused, &q.ConcurrencyLimit, &q.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

// SetWorkQueuePaused pauses or resumes a work queue.
func (s *Store) SetWorkQueuePaused(ctx context.Context, id string, paused bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_queues SET paused = ? WHERE id = ?`, paused, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("work queue %q: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteWorkQueue removes a work queue.
func (s *Store) DeleteWorkQueue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_queues WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("work queue %q: %w", id, ErrNotFound)
	}
	return nil
}

// --- block types ---

// RegisterBlockType inserts a block type descriptor. Registering a name or
// slug that already exists returns ErrAlreadyExists.
func (s *Store) RegisterBlockType(ctx context.Context, b BlockType) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO block_types (name, slug, logo_url, documentation_url, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.Name, b.Slug, b.LogoURL, b.DocumentationURL, b.CreatedAt.UTC())
	if isConstraintErr(err) {
		return fmt.Errorf("block type %q: %w", b.Name, ErrAlreadyExists)
	}
	return err
}

// ListBlockTypes returns all registered block types ordered by name.
func (s *Store) ListBlockTypes(ctx context.Context) ([]BlockType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, slug, logo_url, documentation_url, created_at FROM block_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockType
	for rows.Next() {
		var b BlockType
		if err := rows.Scan(&b.Name, &b.Slug, &b.LogoURL, &b.DocumentationURL, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// --- notifications ---

// EnqueueNotification adds a run-state notification to the dispatch queue.
func (s *Store) EnqueueNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, run_id, state, message, webhook_url, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RunID, n.State, n.Message, n.WebhookURL, n.Attempts, n.CreatedAt.UTC())
	if isConstraintErr(err) {
		return fmt.Errorf("notification %q: %w", n.ID, ErrConflict)
	}
	return err
}

// PendingNotifications returns up to limit unsent notifications, oldest first.
func (s *Store) PendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, state, message, webhook_url, attempts, created_at
		 FROM notifications WHERE sent_at IS NULL ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RunID, &n.State, &n.Message, &n.WebhookURL, &n.Attempts, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// MarkNotificationSent records a successful delivery.
func (s *Store) MarkNotificationSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET sent_at = ?, attempts = attempts + 1 WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// RecordNotificationAttempt increments the attempt counter after a failed
// delivery so the notification is retried on a later pass.
func (s *Store) RecordNotificationAttempt(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET attempts = attempts + 1 WHERE id = ?`, id)
	return err
}

// ClearDatabase deletes all rows from every table. Used by the admin API.
func (s *Store) ClearDatabase(ctx context.Context) error {
	for _, table := range []string{"notifications", "runs", "deployments", "pipelines", "work_queues", "block_types"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
