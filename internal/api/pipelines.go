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

// PipelinesHandler serves the /pipelines route group.
type PipelinesHandler struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewPipelinesHandler creates a pipelines handler.
func NewPipelinesHandler(store *storage.Store, logger *slog.Logger) *PipelinesHandler {
	return &PipelinesHandler{store: store, logger: logger}
}

// Group returns the default route group for pipelines.
func (h *PipelinesHandler) Group() RouteGroup {
	return RouteGroup{
		Prefix: "/pipelines",
		Endpoints: []Endpoint{
			{Method: http.MethodPost, Path: "/", Handler: Fault(h.logger, h.handleCreate)},
			{Method: http.MethodGet, Path: "/", Handler: Fault(h.logger, h.handleList)},
			{Method: http.MethodGet, Path: "/{id}", Handler: Fault(h.logger, h.handleGet)},
		},
	}
}

type createPipelineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *PipelinesHandler) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req createPipelineRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return err
	}
	if req.Name == "" {
		return &RequestShapeError{Detail: "name is required", Body: body}
	}

	p := storage.Pipeline{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreatePipeline(r.Context(), p); err != nil {
		return err
	}

	httputil.WriteJSON(w, http.StatusCreated, p)
	return nil
}

func (h *PipelinesHandler) handleList(w http.ResponseWriter, r *http.Request) error {
	pipelines, err := h.store.ListPipelines(r.Context())
	if err != nil {
		return err
	}
	if pipelines == nil {
		pipelines = []storage.Pipeline{}
	}
	httputil.WriteJSON(w, http.StatusOK, pipelines)
	return nil
}

func (h *PipelinesHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	p, err := h.store.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	httputil.WriteJSON(w, http.StatusOK, p)
	return nil
}
