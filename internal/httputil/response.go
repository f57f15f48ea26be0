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

// Package httputil holds the JSON response helpers shared by every
// handler. Error bodies always carry the client-facing text under the
// "message" key.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON encodes data as the response body with the given status.
// Once the header is written an encoding failure can no longer reach
// the client, so it is logged instead.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response body", slog.Any("error", err))
	}
}

// WriteError writes the boundary error payload {"message": ...} with
// the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"message": message})
}
