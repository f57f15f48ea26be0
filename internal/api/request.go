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
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies to keep validation echoes bounded.
const maxBodyBytes = 1 << 20

// readJSON decodes the request body into dst and returns the raw body
// so validation failures can echo it back. Malformed JSON becomes a
// RequestShapeError.
func readJSON(r *http.Request, dst any) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", &RequestShapeError{Detail: "failed to read request body", Err: err}
	}
	body := string(raw)
	if err := json.Unmarshal(raw, dst); err != nil {
		return body, &RequestShapeError{Detail: err.Error(), Body: body, Err: err}
	}
	return body, nil
}
