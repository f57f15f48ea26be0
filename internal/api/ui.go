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
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/switchyard/internal/httputil"
)

// MountUI serves the single-page UI from staticDir under /ui/ and
// exposes /ui-settings so the frontend can discover the API URL.
// Unknown paths without a file extension fall back to index.html so
// client-side routing works on refresh.
func (r *Router) MountUI(staticDir, apiURL string) {
	r.mux.HandleFunc("GET /ui-settings", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"api_url": apiURL,
		})
	})

	index := filepath.Join(staticDir, "index.html")
	fs := http.StripPrefix("/ui/", http.FileServer(http.Dir(staticDir)))

	r.mux.HandleFunc("GET /ui/", func(w http.ResponseWriter, req *http.Request) {
		rel := strings.TrimPrefix(req.URL.Path, "/ui/")
		if rel != "" && filepath.Ext(rel) != "" {
			fs.ServeHTTP(w, req)
			return
		}
		if _, err := os.Stat(filepath.Join(staticDir, rel)); err == nil && rel != "" {
			fs.ServeHTTP(w, req)
			return
		}
		http.ServeFile(w, req, index)
	})
}
