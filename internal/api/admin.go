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

	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/httputil"
	"github.com/tombee/switchyard/internal/storage"
)

// AdminHandler serves the /admin route group.
type AdminHandler struct {
	store   *storage.Store
	config  config.Config
	version string
	logger  *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(store *storage.Store, cfg config.Config, version string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{store: store, config: cfg, version: version, logger: logger}
}

// Group returns the default route group for admin operations.
func (h *AdminHandler) Group() RouteGroup {
	return RouteGroup{
		Prefix: "/admin",
		Endpoints: []Endpoint{
			{Method: http.MethodGet, Path: "/hello", Handler: Fault(h.logger, h.handleHello)},
			{Method: http.MethodGet, Path: "/version", Handler: Fault(h.logger, h.handleVersion)},
			{Method: http.MethodGet, Path: "/settings", Handler: Fault(h.logger, h.handleSettings)},
			{Method: http.MethodPost, Path: "/database/clear", Handler: Fault(h.logger, h.handleDatabaseClear)},
		},
	}
}

func (h *AdminHandler) handleHello(w http.ResponseWriter, r *http.Request) error {
	httputil.WriteJSON(w, http.StatusOK, "👋")
	return nil
}

func (h *AdminHandler) handleVersion(w http.ResponseWriter, r *http.Request) error {
	httputil.WriteJSON(w, http.StatusOK, h.version)
	return nil
}

// handleSettings echoes the effective configuration. The database path
// is omitted so the response never reveals filesystem layout.
func (h *AdminHandler) handleSettings(w http.ResponseWriter, r *http.Request) error {
	cfg := h.config
	cfg.Database.Path = ""
	httputil.WriteJSON(w, http.StatusOK, cfg)
	return nil
}

func (h *AdminHandler) handleDatabaseClear(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.ClearDatabase(r.Context()); err != nil {
		return err
	}
	h.logger.Warn("database cleared via admin API")
	w.WriteHeader(http.StatusNoContent)
	return nil
}
