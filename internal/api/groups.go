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

	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/storage"
)

// DefaultGroups returns the fixed default route groups in their
// canonical registration order. Overrides are applied against this set.
func DefaultGroups(store *storage.Store, cfg config.Config, version string, logger *slog.Logger) []RouteGroup {
	return []RouteGroup{
		NewPipelinesHandler(store, logger).Group(),
		NewRunsHandler(store, cfg.Services.Notifications.WebhookURL, logger).Group(),
		NewDeploymentsHandler(store, logger).Group(),
		NewWorkQueuesHandler(store, logger).Group(),
		NewBlocksHandler(store, logger).Group(),
		NewAdminHandler(store, cfg, version, logger).Group(),
	}
}
