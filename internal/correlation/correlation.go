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

// Package correlation propagates per-request correlation IDs across
// the HTTP surface and into logs.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ID is a unique identifier for tracing a request across components.
// It uses RFC 4122 UUID format.
type ID string

type contextKeyType struct{}

var contextKey = contextKeyType{}

// HTTP header names for correlation ID propagation.
const (
	// HeaderCorrelationID is the primary header for correlation ID.
	HeaderCorrelationID = "X-Correlation-ID"
	// HeaderRequestID is an alternative header accepted for compatibility.
	HeaderRequestID = "X-Request-ID"
)

// NewID generates a new unique correlation ID.
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the string representation of the correlation ID.
func (c ID) String() string {
	return string(c)
}

// IsValid checks if the correlation ID is a valid UUID.
func (c ID) IsValid() bool {
	_, err := uuid.Parse(string(c))
	return err == nil
}

// ToContext adds the correlation ID to the context.
func ToContext(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, contextKey, id)
}

// FromContext retrieves the correlation ID from the context.
// Returns empty string if no correlation ID is present.
func FromContext(ctx context.Context) ID {
	if id, ok := ctx.Value(contextKey).(ID); ok {
		return id
	}
	return ""
}

// extractFromRequest pulls a correlation ID from the request headers,
// preferring X-Correlation-ID over X-Request-ID.
func extractFromRequest(r *http.Request) (ID, bool) {
	if id := r.Header.Get(HeaderCorrelationID); id != "" {
		return ID(id), true
	}
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return ID(id), true
	}
	return "", false
}

// Middleware extracts or generates a correlation ID for each request.
//
// For incoming requests it accepts X-Correlation-ID or X-Request-ID,
// rejects malformed IDs with 400, and generates a fresh one when no
// header is provided. The ID is stored in the request context and
// echoed back on the response as X-Correlation-ID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id ID
		if got, found := extractFromRequest(r); found {
			if !got.IsValid() {
				http.Error(w, "Invalid X-Correlation-ID format: must be UUID", http.StatusBadRequest)
				return
			}
			id = got
		} else {
			id = NewID()
		}

		w.Header().Set(HeaderCorrelationID, id.String())
		next.ServeHTTP(w, r.WithContext(ToContext(r.Context(), id)))
	})
}
