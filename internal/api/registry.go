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
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Route identifies a single endpoint within a route group: an HTTP method
// and a sub-path relative to the group prefix ("/" is the group root).
type Route struct {
	Method string
	Path   string
}

func (r Route) String() string {
	return r.Method + " " + r.Path
}

// Endpoint is a Route bound to its handler.
type Endpoint struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// RouteGroup is a bundle of endpoints sharing a path prefix. Groups are
// immutable once registered; replacing one goes through ApplyOverrides.
type RouteGroup struct {
	Prefix    string
	Endpoints []Endpoint
}

// routes returns the (method, sub-path) set of a group.
func (g RouteGroup) routes() map[Route]struct{} {
	set := make(map[Route]struct{}, len(g.Endpoints))
	for _, e := range g.Endpoints {
		set[Route{Method: e.Method, Path: e.Path}] = struct{}{}
	}
	return set
}

// Registry holds the route groups an application serves, keyed by prefix.
// It is built fresh for every application build and discarded once the
// groups are mounted.
type Registry struct {
	order  []string
	groups map[string]RouteGroup

	// defaults is a snapshot of each group's route set at registration
	// time. Overrides are validated against this snapshot, never against a
	// partially-overridden registry, so a batch of overrides is
	// order-independent.
	defaults map[string]map[Route]struct{}
}

// UnknownPrefixError reports an override naming a prefix that was never
// registered. Overrides may only replace existing groups.
type UnknownPrefixError struct {
	Prefix string
}

func (e *UnknownPrefixError) Error() string {
	return fmt.Sprintf("route override provided for prefix that does not exist: %q", e.Prefix)
}

// PrefixMismatchError reports a replacement group whose declared prefix
// differs from the prefix it is overriding.
type PrefixMismatchError struct {
	Prefix   string
	Declared string
}

func (e *PrefixMismatchError) Error() string {
	return fmt.Sprintf("route override for %q declares a different prefix %q", e.Prefix, e.Declared)
}

// CapabilityRegressionError reports a replacement group that drops endpoints
// the original group served. Missing holds the exact set difference.
type CapabilityRegressionError struct {
	Prefix  string
	Missing []Route
}

func (e *CapabilityRegressionError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, r := range e.Missing {
		parts[i] = r.String()
	}
	return fmt.Sprintf("route override for %q is missing routes defined by the original group: %s",
		e.Prefix, strings.Join(parts, ", "))
}

// NewRegistry builds a registry from the default group list, preserving
// order. Duplicate prefixes are a programming error and rejected.
func NewRegistry(defaults []RouteGroup) (*Registry, error) {
	r := &Registry{
		groups:   make(map[string]RouteGroup, len(defaults)),
		defaults: make(map[string]map[Route]struct{}, len(defaults)),
	}
	for _, g := range defaults {
		if _, ok := r.groups[g.Prefix]; ok {
			return nil, fmt.Errorf("duplicate route group prefix %q", g.Prefix)
		}
		r.order = append(r.order, g.Prefix)
		r.groups[g.Prefix] = g
		r.defaults[g.Prefix] = g.routes()
	}
	return r, nil
}

// ApplyOverrides validates and applies caller-supplied group replacements.
// A nil value drops the group entirely; a non-nil value replaces it, but
// only if the replacement serves every route the original did. The first
// violation aborts with no partial application.
func (r *Registry) ApplyOverrides(overrides map[string]*RouteGroup) error {
	// Validate the whole batch before touching the registry.
	for prefix, replacement := range overrides {
		original, ok := r.defaults[prefix]
		if !ok {
			return &UnknownPrefixError{Prefix: prefix}
		}
		if replacement == nil {
			// Dropping a group is always permitted.
			continue
		}
		if replacement.Prefix != prefix {
			return &PrefixMismatchError{Prefix: prefix, Declared: replacement.Prefix}
		}

		replacementRoutes := replacement.routes()
		var missing []Route
		for route := range original {
			if _, ok := replacementRoutes[route]; !ok {
				missing = append(missing, route)
			}
		}
		if len(missing) > 0 {
			sort.Slice(missing, func(i, j int) bool {
				if missing[i].Path != missing[j].Path {
					return missing[i].Path < missing[j].Path
				}
				return missing[i].Method < missing[j].Method
			})
			return &CapabilityRegressionError{Prefix: prefix, Missing: missing}
		}
	}

	for prefix, replacement := range overrides {
		if replacement == nil {
			delete(r.groups, prefix)
			continue
		}
		r.groups[prefix] = *replacement
	}
	return nil
}

// Groups returns the registered groups in their original registration
// order, skipping any that overrides dropped.
func (r *Registry) Groups() []RouteGroup {
	result := make([]RouteGroup, 0, len(r.groups))
	for _, prefix := range r.order {
		if g, ok := r.groups[prefix]; ok {
			result = append(result, g)
		}
	}
	return result
}

// Has reports whether a group with the given prefix is registered.
func (r *Registry) Has(prefix string) bool {
	_, ok := r.groups[prefix]
	return ok
}
