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

// Package api provides the HTTP API surface: the route registry,
// handler groups, fault translation, and the router that ties them
// together.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/switchyard/internal/correlation"
	"github.com/tombee/switchyard/internal/httputil"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	APIPrefix  string
	HealthPath string
	Version    string
}

// Router wraps an http.ServeMux with middleware and group mounting.
type Router struct {
	mux     *http.ServeMux
	config  RouterConfig
	logger  *slog.Logger
	metrics *metrics.Provider

	// chain is the mux wrapped in the middleware stack, rebuilt only
	// when the stack changes.
	chain http.Handler
}

// NewRouter creates an HTTP router with the built-in endpoints
// registered. API route groups are mounted separately via MountGroups.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = cfg.APIPrefix + "/health"
	}
	if logger == nil {
		logger = log.New(log.FromEnv())
	}

	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: logger,
	}

	r.mux.HandleFunc("GET "+cfg.HealthPath, r.handleHealth)

	// Root endpoint for basic connectivity check
	r.mux.HandleFunc("GET /{$}", r.handleRoot)

	r.rebuildChain()
	return r
}

// MountGroups registers every route group in the registry under the
// configured API prefix, in registration order.
func (r *Router) MountGroups(reg *Registry) {
	for _, group := range reg.Groups() {
		base := strings.TrimSuffix(r.config.APIPrefix+group.Prefix, "/")
		for _, ep := range group.Endpoints {
			r.mux.HandleFunc(ep.Method+" "+joinPattern(base, ep.Path), ep.Handler)
		}
	}
}

// joinPattern combines a mount base with an endpoint sub-path into a
// ServeMux pattern. "/" maps to the group root, exactly.
func joinPattern(base, path string) string {
	if path == "" || path == "/" {
		return base + "/{$}"
	}
	return base + path
}

// SetMetricsProvider wires the metrics provider into the middleware
// chain and exposes its scrape endpoint at /metrics. Call during
// assembly, before the router starts serving.
func (r *Router) SetMetricsProvider(p *metrics.Provider) {
	r.metrics = p
	if p != nil {
		r.mux.Handle("GET /metrics", p.Handler())
	}
	r.rebuildChain()
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.chain.ServeHTTP(w, req)
}

// rebuildChain composes the middleware stack around the mux, from
// innermost to outermost:
//  1. Routing mux (innermost)
//  2. Metrics instrumentation
//  3. Request logging
//  4. Correlation ID extraction (outermost, so logs can use it)
func (r *Router) rebuildChain() {
	var handler http.Handler = r.mux

	if r.metrics != nil {
		handler = r.metrics.Middleware(handler)
	}

	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		logger := log.WithCorrelationID(r.logger, correlation.FromContext(req.Context()).String())

		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		innerHandler.ServeHTTP(w, req)
	})

	r.chain = correlation.Middleware(handler)
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "switchyard",
		"version": r.config.Version,
	})
}

// handleHealth reports liveness. The body is the bare JSON literal
// `true` so load balancers and clients can do a cheap truthiness check.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, true)
}
