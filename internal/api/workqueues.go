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
	"time"

	"github.com/google/uuid"
	"github.com/tombee/switchyard/internal/httputil"
	"github.com/tombee/switchyard/internal/storage"
)

// WorkQueuesHandler serves the /work_queues route group.
type WorkQueuesHandler struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewWorkQueuesHandler creates a work queues handler.
func NewWorkQueuesHandler(store *storage.Store, logger *slog.Logger) *WorkQueuesHandler {
	return &WorkQueuesHandler{store: store, logger: logger}
}

// Group returns the default route group for work queues.
func (h *WorkQueuesHandler) Group() RouteGroup {
	return RouteGroup{
		Prefix: "/work_queues",
		Endpoints: []Endpoint{
			{Method: http.MethodPost, Path: "/", Handler: Fault(h.logger, h.handleCreate)},
			{Method: http.MethodGet, Path: "/", Handler: Fault(h.logger, h.handleList)},
			{Method: http.MethodGet, Path: "/{id}", Handler: Fault(h.logger, h.handleGet)},
			{Method: http.MethodPost, Path: "/{id}/pause", Handler: Fault(h.logger, h.handlePause)},
			{Method: http.MethodPost, Path: "/{id}/resume", Handler: Fault(h.logger, h.handleResume)},
			{Method: http.MethodDelete, Path: "/{id}", Handler: Fault(h.logger, h.handleDelete)},
		},
	}
}

type createWorkQueueRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
}

func (h *WorkQueuesHandler) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req createWorkQueueRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return err
	}
	if req.Name == "" {
		return &RequestShapeError{Detail: "name is required", Body: body}
	}
	if req.ConcurrencyLimit < 0 {
		return &RequestShapeError{Detail: "concurrency_limit must not be negative", Body: body}
	}

	q := storage.WorkQueue{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Description:      req.Description,
		ConcurrencyLimit: req.ConcurrencyLimit,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.store.CreateWorkQueue(r.Context(), q); err != nil {
		return err
	}

	httputil.WriteJSON(w, http.StatusCreated, q)
	return nil
}

func (h *WorkQueuesHandler) handleList(w http.ResponseWriter, r *http.Request) error {
	queues, err := h.store.ListWorkQueues(r.Context())
	if err != nil {
		return err
	}
	if queues == nil {
		queues = []storage.WorkQueue{}
	}
	httputil.WriteJSON(w, http.StatusOK, queues)
	return nil
}

func (h *WorkQueuesHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	q, err := h.store.GetWorkQueue(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	httputil.WriteJSON(w, http.StatusOK, q)
	return nil
}

func (h *WorkQueuesHandler) handlePause(w http.ResponseWriter, r *http.Request) error {
	return h.setPaused(w, r, true)
}

func (h *WorkQueuesHandler) handleResume(w http.ResponseWriter, r *http.Request) error {
	return h.setPaused(w, r, false)
}

func (h *WorkQueuesHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) error {
	id := r.PathValue("id")
	if err := h.store.SetWorkQueuePaused(r.Context(), id, paused); err != nil {
		return err
	}
	q, err := h.store.GetWorkQueue(r.Context(), id)
	if err != nil {
		return err
	}
	httputil.WriteJSON(w, http.StatusOK, q)
	return nil
}

func (h *WorkQueuesHandler) handleDelete(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.DeleteWorkQueue(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
