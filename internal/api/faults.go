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
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tombee/switchyard/internal/httputil"
	"github.com/tombee/switchyard/internal/storage"
)

// RequestShapeError reports a request body that could not be decoded or
// failed field validation. Handlers return it to surface a 422 that
// carries the offending body back to the caller.
type RequestShapeError struct {
	Detail string
	Body   string
	Err    error
}

func (e *RequestShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid request: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("invalid request: %s", e.Detail)
}

func (e *RequestShapeError) Unwrap() error { return e.Err }

// HandlerFunc is an http.HandlerFunc that reports failures by returning
// an error instead of writing a response itself.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Fault adapts a HandlerFunc into an http.HandlerFunc, translating
// returned errors into HTTP responses:
//
//   - *RequestShapeError becomes 422 with the validation detail and the
//     request body echoed back.
//   - storage.ErrConflict becomes a generic 409; the cause is logged,
//     not exposed.
//   - storage.ErrNotFound becomes 404 with the error's own message.
//   - Anything else becomes a generic 500; the cause is logged.
//
// Responses written by the handler before returning nil pass through
// untouched.
func Fault(logger *slog.Logger, next HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := next(w, r)
		if err == nil {
			return
		}

		var shapeErr *RequestShapeError
		switch {
		case errors.As(err, &shapeErr):
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"message": "request validation failed",
				"detail":  shapeErr.Detail,
				"body":    shapeErr.Body,
			})
		case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrAlreadyExists):
			logger.Error("Request conflicted with existing state",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			httputil.WriteError(w, http.StatusConflict, "Data integrity conflict. This usually means a unique or foreign key constraint was violated.")
		case errors.Is(err, storage.ErrNotFound):
			httputil.WriteError(w, http.StatusNotFound, err.Error())
		default:
			logger.Error("Request handler failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			httputil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		}
	}
}
