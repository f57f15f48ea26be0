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

	"github.com/tombee/switchyard/internal/httputil"
	"github.com/tombee/switchyard/internal/storage"
)

// BlocksHandler serves the /blocks route group. Block types are
// registered at startup; the API only enumerates them.
type BlocksHandler struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewBlocksHandler creates a blocks handler.
func NewBlocksHandler(store *storage.Store, logger *slog.Logger) *BlocksHandler {
	return &BlocksHandler{store: store, logger: logger}
}

// Group returns the default route group for blocks.
func (h *BlocksHandler) Group() RouteGroup {
	return RouteGroup{
		Prefix: "/blocks",
		Endpoints: []Endpoint{
			{Method: http.MethodGet, Path: "/types", Handler: Fault(h.logger, h.handleListTypes)},
			{Method: http.MethodGet, Path: "/types/{slug}", Handler: Fault(h.logger, h.handleGetType)},
		},
	}
}

func (h *BlocksHandler) handleListTypes(w http.ResponseWriter, r *http.Request) error {
	types, err := h.store.ListBlockTypes(r.Context())
	if err != nil {
		return err
	}
	if types == nil {
		types = []storage.BlockType{}
	}
	httputil.WriteJSON(w, http.StatusOK, types)
	return nil
}

func (h *BlocksHandler) handleGetType(w http.ResponseWriter, r *http.Request) error {
	slug := r.PathValue("slug")
	types, err := h.store.ListBlockTypes(r.Context())
	if err != nil {
		return err
	}
	for _, b := range types {
		if b.Slug == slug {
			httputil.WriteJSON(w, http.StatusOK, b)
			return nil
		}
	}
	return &notFoundError{what: "block type " + slug}
}

// notFoundError adapts an API-level miss onto the storage sentinel so
// fault translation maps it to 404.
type notFoundError struct {
	what string
}

func (e *notFoundError) Error() string { return e.what + ": " + storage.ErrNotFound.Error() }
func (e *notFoundError) Unwrap() error { return storage.ErrNotFound }
