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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/switchyard/internal/httputil"
	"github.com/tombee/switchyard/internal/storage"
)

// defaultRunListLimit bounds unfiltered run listings.
const defaultRunListLimit = 200

// validRunStates are the states a run may be moved to via the API.
var validRunStates = map[string]bool{
	storage.StateScheduled: true,
	storage.StateLate:      true,
	storage.StateRunning:   true,
	storage.StateCompleted: true,
	storage.StateFailed:    true,
	storage.StateCancelled: true,
}

// notifiedStates are the state transitions that queue a webhook
// notification when a webhook URL is configured.
var notifiedStates = map[string]bool{
	storage.StateCompleted: true,
	storage.StateFailed:    true,
	storage.StateCancelled: true,
	storage.StateLate:      true,
}

// RunsHandler serves the /runs route group.
type RunsHandler struct {
	store      *storage.Store
	webhookURL string
	logger     *slog.Logger
}

// NewRunsHandler creates a runs handler. An empty webhookURL disables
// state notifications.
func NewRunsHandler(store *storage.Store, webhookURL string, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{store: store, webhookURL: webhookURL, logger: logger}
}

// Group returns the default route group for runs.
func (h *RunsHandler) Group() RouteGroup {
	return RouteGroup{
		Prefix: "/runs",
		Endpoints: []Endpoint{
			{Method: http.MethodPost, Path: "/", Handler: Fault(h.logger, h.handleCreate)},
			{Method: http.MethodGet, Path: "/", Handler: Fault(h.logger, h.handleList)},
			{Method: http.MethodGet, Path: "/{id}", Handler: Fault(h.logger, h.handleGet)},
			{Method: http.MethodPost, Path: "/{id}/set_state", Handler: Fault(h.logger, h.handleSetState)},
		},
	}
}

type createRunRequest struct {
	PipelineID   string     `json:"pipeline_id"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

func (h *RunsHandler) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req createRunRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return err
	}
	if req.PipelineID == "" {
		return &RequestShapeError{Detail: "pipeline_id is required", Body: body}
	}

	now := time.Now().UTC()
	run := storage.Run{
		ID:           uuid.New().String(),
		PipelineID:   req.PipelineID,
		State:        storage.StateScheduled,
		ScheduledFor: req.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if run.ScheduledFor == nil {
		run.ScheduledFor = &now
	}
	if err := h.store.CreateRun(r.Context(), run); err != nil {
		return err
	}

	httputil.WriteJSON(w, http.StatusCreated, run)
	return nil
}

func (h *RunsHandler) handleList(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	limit := defaultRunListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return &RequestShapeError{Detail: "limit must be a positive integer"}
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), q.Get("pipeline_id"), q.Get("state"), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
	return nil
}

func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	run, err := h.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	httputil.WriteJSON(w, http.StatusOK, run)
	return nil
}

type setStateRequest struct {
	State string `json:"state"`
}

func (h *RunsHandler) handleSetState(w http.ResponseWriter, r *http.Request) error {
	var req setStateRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return err
	}
	if !validRunStates[req.State] {
		return &RequestShapeError{Detail: "unknown state: " + req.State, Body: body}
	}

	id := r.PathValue("id")
	if err := h.store.SetRunState(r.Context(), id, req.State); err != nil {
		return err
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		return err
	}

	// Notification delivery is best effort; the state change already
	// succeeded, so a queue failure is logged rather than surfaced.
	if h.webhookURL != "" && notifiedStates[run.State] {
		n := storage.Notification{
			ID:         uuid.New().String(),
			RunID:      run.ID,
			State:      run.State,
			Message:    "run " + run.ID + " entered state " + run.State,
			WebhookURL: h.webhookURL,
			CreatedAt:  time.Now().UTC(),
		}
		if err := h.store.EnqueueNotification(r.Context(), n); err != nil {
			h.logger.Warn("failed to queue notification",
				slog.String("run", run.ID), slog.Any("error", err))
		}
	}

	httputil.WriteJSON(w, http.StatusOK, run)
	return nil
}
