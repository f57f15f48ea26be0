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

// Package blocks declares the block types this server understands and
// registers them at startup.
package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/switchyard/internal/storage"
)

// Registry is the explicit, ordered list of built-in block types.
// Adding a block kind means adding a row here.
var Registry = []storage.BlockType{
	{Name: "Webhook", Slug: "webhook", DocumentationURL: "https://docs.switchyard.dev/blocks/webhook"},
	{Name: "Secret", Slug: "secret", DocumentationURL: "https://docs.switchyard.dev/blocks/secret"},
	{Name: "Local File System", Slug: "local-file-system", DocumentationURL: "https://docs.switchyard.dev/blocks/local-file-system"},
	{Name: "Remote File System", Slug: "remote-file-system", DocumentationURL: "https://docs.switchyard.dev/blocks/remote-file-system"},
	{Name: "Slack Webhook", Slug: "slack-webhook", DocumentationURL: "https://docs.switchyard.dev/blocks/slack-webhook"},
	{Name: "Date Time", Slug: "date-time", DocumentationURL: "https://docs.switchyard.dev/blocks/date-time"},
	{Name: "JSON", Slug: "json", DocumentationURL: "https://docs.switchyard.dev/blocks/json"},
	{Name: "String", Slug: "string", DocumentationURL: "https://docs.switchyard.dev/blocks/string"},
}

// RegisterAll inserts every built-in block type. Types already present
// from an earlier start are skipped; any other failure aborts.
func RegisterAll(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
	now := time.Now().UTC()
	for _, b := range Registry {
		b.CreatedAt = now
		err := store.RegisterBlockType(ctx, b)
		if errors.Is(err, storage.ErrAlreadyExists) {
			logger.Debug("block type already registered", slog.String("slug", b.Slug))
			continue
		}
		if err != nil {
			return fmt.Errorf("register block type %q: %w", b.Slug, err)
		}
	}
	return nil
}
