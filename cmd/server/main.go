// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package main is the Pathtrace server.
//
// The server accepts one websocket per page load on /ws. Tracked pages stream
// their visitor's events; pages under the admin route observe every visitor
// live. The accumulated table is checkpointed to disk and served read-only on
// /api/users for offline analysis.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging
//  3. Storage: open the backend and load the last checkpoint
//  4. Aggregator, websocket hub, identity resolver, geo resolver
//  5. Supervisor tree: checkpointer, cache sweeper, hub, HTTP server
//
// SIGINT and SIGTERM cancel the tree. The HTTP server drains, every open
// session records its disconnect, and the checkpointer writes a final
// snapshot before the store is closed.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/pathtrace/internal/aggregator"
	"github.com/tomtom215/pathtrace/internal/api"
	"github.com/tomtom215/pathtrace/internal/config"
	"github.com/tomtom215/pathtrace/internal/enrich"
	"github.com/tomtom215/pathtrace/internal/identity"
	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/metrics"
	"github.com/tomtom215/pathtrace/internal/models"
	"github.com/tomtom215/pathtrace/internal/storage"
	"github.com/tomtom215/pathtrace/internal/supervisor"
	"github.com/tomtom215/pathtrace/internal/supervisor/services"
	ws "github.com/tomtom215/pathtrace/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		RedactPII: cfg.Logging.RedactPII,
	})
	metrics.SetAppInfo(version)

	logging.Info().
		Str("version", version).
		Str("storage", cfg.Storage.Backend).
		Str("geoip", cfg.GeoIP.Provider).
		Str("admin_route", cfg.Server.AdminRoute).
		Msg("Starting Pathtrace")
	if cfg.IsProduction() && cfg.HasWildcardCORS() {
		logging.Warn().Msg("CORS allows every origin in production")
	}

	store, err := storage.Open(&cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshot := storage.LoadOrEmpty(ctx, store)
	logging.Info().Int("users", len(snapshot.Users)).Str("backend", store.Name()).Msg("User table loaded")

	hub := ws.NewHub()
	geo := enrich.NewGeoResolverFromConfig(&cfg.GeoIP)
	agg := aggregator.New(snapshot.Users, aggregator.Options{
		Broadcaster: hub,
		Geo:         geo,
		DefaultScreen: models.Screen{
			Width:  cfg.Tracking.ScreenWidth,
			Height: cfg.Tracking.ScreenHeight,
		},
	})
	resolver := identity.NewResolver(identity.Config{
		CookieName: cfg.Tracking.CookieName,
		Lifetime:   cfg.Tracking.TokenMaxAge,
		Secure:     cfg.Tracking.SecureCookie,
	}, identity.NewMinter(nil))

	handler := api.NewHandler(cfg, agg, hub, resolver)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(&cfg.Supervisor))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	checkpointer := storage.NewCheckpointer(store, agg, cfg.Storage.CheckpointInterval)
	tree.AddDataService(checkpointer)
	tree.AddDataService(services.NewSweeperService("geo-cache-sweeper", geo, cfg.GeoIP.CacheTTL/4, nil))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Addr(), cfg.Server.ShutdownTimeout))

	handler.SetReady(true)

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}

	// Layers stop concurrently, so disconnects recorded while the hub closed
	// its clients may postdate the checkpointer's own final flush.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := checkpointer.Flush(flushCtx); err != nil {
		logging.Error().Err(err).Msg("Final checkpoint failed")
	}
	logging.Info().Msg("Pathtrace stopped")
}
