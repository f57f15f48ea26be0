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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/switchyard/internal/app"
	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		listenAddr  = flag.String("listen", "", "Address to listen on")
		dbPath      = flag.String("db", "", "Path to the SQLite database")
		ephemeral   = flag.Bool("ephemeral", false, "Run without UI or background services")
		uiDir       = flag.String("ui-dir", "", "Directory with the UI static build")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("switchyardd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *uiDir != "" {
		cfg.UI.Enabled = true
		cfg.UI.StaticDir = *uiDir
	}

	cache := app.NewCache(logger)
	instance, err := cache.GetOrBuild(cfg, app.BuildOptions{
		Ephemeral: *ephemeral,
		Version:   version,
		Logger:    logger,
	}, false)
	if err != nil {
		logger.Error("Failed to build server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := instance.Start(ctx); err != nil {
		logger.Error("Failed to start server", slog.Any("error", err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      instance.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			slog.String("addr", cfg.Server.ListenAddr),
			slog.String("version", version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.Any("error", err))
	}
	cancel()
	if err := instance.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", slog.Any("error", err))
	}
}
