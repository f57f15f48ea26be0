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
	"github.com/tombee/switchyard/internal/cron"
	"github.com/tombee/switchyard/internal/httputil"
	"github.com/tombee/switchyard/internal/storage"
)

// DeploymentsHandler serves the /deployments route group.
type DeploymentsHandler struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewDeploymentsHandler creates a deployments handler.
func NewDeploymentsHandler(store *storage.Store, logger *slog.Logger) *DeploymentsHandler {
	return &DeploymentsHandler{store: store, logger: logger}
}

// Group returns the default route group for deployments.
func (h *DeploymentsHandler) Group() RouteGroup {
	return RouteGroup{
		Prefix: "/deployments",
		Endpoints: []Endpoint{
			{Method: http.MethodPost, Path: "/", Handler: Fault(h.logger, h.handleCreate)},
			{Method: http.MethodGet, Path: "/", Handler: Fault(h.logger, h.handleList)},
			{Method: http.MethodGet, Path: "/{id}", Handler: Fault(h.logger, h.handleGet)},
		},
	}
}

type createDeploymentRequest struct {
	PipelineID string `json:"pipeline_id"`
	Name       string `json:"name"`
	Cron       string `json:"cron"`
	Enabled    *bool  `json:"enabled"`
}

func (h *DeploymentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req createDeploymentRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return err
	}
	if req.PipelineID == "" {
		return &RequestShapeError{Detail: "pipeline_id is required", Body: body}
	}
	if req.Name == "" {
		return &RequestShapeError{Detail: "name is required", Body: body}
	}
	if _, err := cron.Parse(req.Cron); err != nil {
		return &RequestShapeError{Detail: "invalid cron expression: " + err.Error(), Body: body, Err: err}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	d := storage.Deployment{
		ID:         uuid.New().String(),
		PipelineID: req.PipelineID,
		Name:       req.Name,
		Cron:       req.Cron,
		Enabled:    enabled,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateDeployment(r.Context(), d); err != nil {
		return err
	}

	httputil.WriteJSON(w, http.StatusCreated, d)
	return nil
}

func (h *DeploymentsHandler) handleList(w http.ResponseWriter, r *http.Request) error {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	deployments, err := h.store.ListDeployments(r.Context(), enabledOnly)
	if err != nil {
		return err
	}
	if deployments == nil {
		deployments = []storage.Deployment{}
	}
	httputil.WriteJSON(w, http.StatusOK, deployments)
	return nil
}

func (h *DeploymentsHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	d, err := h.store.GetDeployment(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	httputil.WriteJSON(w, http.StatusOK, d)
	return nil
}
