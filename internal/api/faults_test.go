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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tombee/switchyard/internal/storage"
)

func TestFault_Translation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "conflict",
			err:         fmt.Errorf("insert deployment: %w", storage.ErrConflict),
			wantStatus:  http.StatusConflict,
			wantMessage: "Data integrity conflict",
		},
		{
			name:        "already exists maps to conflict",
			err:         storage.ErrAlreadyExists,
			wantStatus:  http.StatusConflict,
			wantMessage: "Data integrity conflict",
		},
		{
			name:        "not found passes message through",
			err:         fmt.Errorf("run %s: %w", "abc", storage.ErrNotFound),
			wantStatus:  http.StatusNotFound,
			wantMessage: "run abc",
		},
		{
			name:        "unexpected error stays generic",
			err:         fmt.Errorf("disk on fire"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Fault(logger, func(w http.ResponseWriter, r *http.Request) error {
				return tt.err
			})

			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/runs/abc", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			// Every translated fault uses the same payload shape: the
			// client-facing text lives under "message".
			var payload map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if !strings.Contains(payload["message"], tt.wantMessage) {
				t.Errorf("message = %q, want it to contain %q", payload["message"], tt.wantMessage)
			}
			if _, ok := payload["error"]; ok {
				t.Error("payload carries an error key; the contract key is message")
			}
		})
	}
}

func TestFault_InternalDetailNotLeaked(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Fault(logger, func(w http.ResponseWriter, r *http.Request) error {
		return fmt.Errorf("dsn=file:secret.db failed")
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Contains(rec.Body.String(), "secret.db") {
		t.Errorf("internal error detail leaked to client: %q", rec.Body.String())
	}
}

func TestFault_RequestShapeError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Fault(logger, func(w http.ResponseWriter, r *http.Request) error {
		return &RequestShapeError{Detail: "name is required", Body: `{"name":""}`}
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/pipelines/", strings.NewReader(`{"name":""}`)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["message"] != "request validation failed" {
		t.Errorf("message = %q", payload["message"])
	}
	if payload["detail"] != "name is required" {
		t.Errorf("detail = %q", payload["detail"])
	}
	if payload["body"] != `{"name":""}` {
		t.Errorf("body = %q", payload["body"])
	}
}

func TestFault_SuccessPassesThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Fault(logger, func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusCreated)
		return nil
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}
