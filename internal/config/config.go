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

// Package config loads and validates the switchyard server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the complete switchyard server configuration.
//
// Config is a flat value type: every field is comparable, and two configs
// that compare equal must produce servers with identical observable
// behavior. The application instance cache relies on this when it uses a
// Config as a cache key, so maps and slices must not be added here.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	UI       UIConfig       `yaml:"ui"`
	Services ServicesConfig `yaml:"services"`
}

// ServerConfig configures the HTTP surface of the daemon.
type ServerConfig struct {
	// ListenAddr is the TCP address the server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// APIPrefix is the path prefix all route groups are mounted under.
	APIPrefix string `yaml:"api_prefix"`

	// HealthPath is the liveness endpoint path, served without side effects.
	HealthPath string `yaml:"health_path"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the persistence layer.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" creates an in-memory
	// database, which is what ephemeral instances use by default.
	Path string `yaml:"path"`

	// MigrateOnStart runs schema migrations as the first startup action.
	MigrateOnStart bool `yaml:"migrate_on_start"`

	// MaxOpenConns bounds the connection pool. Zero means the driver default.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// UIConfig configures the optional UI mount.
type UIConfig struct {
	// Enabled mounts the UI when a static directory is present.
	// Ephemeral instances never mount the UI regardless of this flag.
	Enabled bool `yaml:"enabled"`

	// StaticDir is the directory holding the built single-page app.
	StaticDir string `yaml:"static_dir"`

	// APIURL is the externally-reachable base URL the UI uses to reach the
	// API, returned by the /ui-settings endpoint.
	APIURL string `yaml:"api_url"`
}

// ServicesConfig selects and tunes the supervised background services.
type ServicesConfig struct {
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	LateRuns      LateRunsConfig      `yaml:"late_runs"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// SchedulerConfig configures the run scheduler service.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is how often the scheduler scans deployment schedules.
	Interval time.Duration `yaml:"interval"`

	// Horizon is how far ahead scheduled runs are materialized.
	Horizon time.Duration `yaml:"horizon"`

	// MaxRunsPerSchedule caps the runs materialized per schedule per pass.
	MaxRunsPerSchedule int `yaml:"max_runs_per_schedule"`
}

// LateRunsConfig configures the late-run marker service.
type LateRunsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is how often scheduled runs are checked for lateness.
	Interval time.Duration `yaml:"interval"`

	// Grace is how far past its scheduled start a run may be before it is
	// marked late.
	Grace time.Duration `yaml:"grace"`
}

// NotificationsConfig configures the notification dispatcher service.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is how often the queue is drained.
	Interval time.Duration `yaml:"interval"`

	// BatchSize is the maximum notifications dispatched per pass.
	BatchSize int `yaml:"batch_size"`

	// RatePerSecond throttles outbound webhook deliveries.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// WebhookURL receives run state notifications. Empty disables
	// enqueueing; anything already queued is still drained.
	WebhookURL string `yaml:"webhook_url"`
}

// TelemetryConfig configures the anonymous usage heartbeat service.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is the heartbeat period.
	Interval time.Duration `yaml:"interval"`

	// Endpoint is the sink heartbeats are posted to.
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:4200",
			APIPrefix:       "/api",
			HealthPath:      "/api/health",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:           defaultDatabasePath(),
			MigrateOnStart: true,
		},
		UI: UIConfig{
			Enabled: true,
			APIURL:  "http://127.0.0.1:4200/api",
		},
		Services: ServicesConfig{
			Scheduler: SchedulerConfig{
				Enabled:            true,
				Interval:           time.Minute,
				Horizon:            time.Hour,
				MaxRunsPerSchedule: 3,
			},
			LateRuns: LateRunsConfig{
				Enabled:  true,
				Interval: 5 * time.Second,
				Grace:    15 * time.Second,
			},
			Notifications: NotificationsConfig{
				Enabled:       true,
				Interval:      2 * time.Second,
				BatchSize:     10,
				RatePerSecond: 5,
			},
			Telemetry: TelemetryConfig{
				Enabled:  false,
				Interval: time.Hour,
				Endpoint: "https://telemetry.switchyard.dev/heartbeat",
			},
		},
	}
}

// defaultDatabasePath places the database under the user config dir,
// falling back to the working directory when it cannot be resolved.
func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "switchyard.db"
	}
	return filepath.Join(dir, "switchyard", "switchyard.db")
}

// Load reads configuration from the given YAML file, layered over defaults
// and under environment overrides. A missing file is not an error; an empty
// path skips file loading entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SWITCHYARD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("SWITCHYARD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SWITCHYARD_UI_API_URL"); v != "" {
		cfg.UI.APIURL = v
	}
	if v := os.Getenv("SWITCHYARD_UI_ENABLED"); v != "" {
		cfg.UI.Enabled = isTruthy(v)
	}
	if v := os.Getenv("SWITCHYARD_SERVICES_SCHEDULER_ENABLED"); v != "" {
		cfg.Services.Scheduler.Enabled = isTruthy(v)
	}
	if v := os.Getenv("SWITCHYARD_SERVICES_LATE_RUNS_ENABLED"); v != "" {
		cfg.Services.LateRuns.Enabled = isTruthy(v)
	}
	if v := os.Getenv("SWITCHYARD_SERVICES_NOTIFICATIONS_ENABLED"); v != "" {
		cfg.Services.Notifications.Enabled = isTruthy(v)
	}
	if v := os.Getenv("SWITCHYARD_NOTIFICATIONS_WEBHOOK_URL"); v != "" {
		cfg.Services.Notifications.WebhookURL = v
	}
	if v := os.Getenv("SWITCHYARD_TELEMETRY_ENABLED"); v != "" {
		cfg.Services.Telemetry.Enabled = isTruthy(v)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listen_addr is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("%w: server.api_prefix must start with '/'", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Server.HealthPath, "/") {
		return fmt.Errorf("%w: server.health_path must start with '/'", ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Services.Scheduler.Enabled && c.Services.Scheduler.Interval <= 0 {
		return fmt.Errorf("%w: services.scheduler.interval must be positive", ErrInvalidConfig)
	}
	if c.Services.LateRuns.Enabled && c.Services.LateRuns.Interval <= 0 {
		return fmt.Errorf("%w: services.late_runs.interval must be positive", ErrInvalidConfig)
	}
	if c.Services.Notifications.Enabled && c.Services.Notifications.Interval <= 0 {
		return fmt.Errorf("%w: services.notifications.interval must be positive", ErrInvalidConfig)
	}
	if c.Services.Telemetry.Enabled && c.Services.Telemetry.Interval <= 0 {
		return fmt.Errorf("%w: services.telemetry.interval must be positive", ErrInvalidConfig)
	}
	return nil
}
