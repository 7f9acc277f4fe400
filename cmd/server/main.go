// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package main is the entry point for the Cartscope server.
//
// Cartscope reconciles commerce-platform cart, checkout and order
// notifications into per-session event logs, tracks each session through the
// purchase funnel, and pushes live updates to merchant dashboards over SSE.
//
// Startup order:
//
//  1. Configuration (Koanf v2: defaults, optional YAML file, environment)
//  2. Logging (zerolog)
//  3. DuckDB event store
//  4. Event bus, broadcast hub, image enrichment, reconciler
//  5. HTTP server under a suture supervisor tree
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the hub closes its viewers, and the
// event store checkpoints on close.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cartscope/cartscope/internal/api"
	"github.com/cartscope/cartscope/internal/broadcast"
	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/database"
	"github.com/cartscope/cartscope/internal/enrich"
	"github.com/cartscope/cartscope/internal/events"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/reconcile"
	"github.com/cartscope/cartscope/internal/retention"
	"github.com/cartscope/cartscope/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("listen", cfg.ListenAddr()).
		Str("db_path", cfg.Database.Path).
		Bool("pixel_enabled", cfg.Pixel.Enabled).
		Msg("Starting Cartscope")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize event store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Reconciliation publishes to the bus; the forwarder drains the bus
	// into the hub; viewers hang off the hub.
	bus := events.NewBus(cfg.Bus)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	hub := broadcast.NewHub(cfg.Live)
	forwarder := events.NewForwarder(bus, hub)
	resolver := enrich.NewResolver(&cfg.Enrich)
	reconciler := reconcile.New(db, resolver, bus, cfg.Identity)

	handler := api.NewHandler(cfg, db, reconciler, hub)
	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: 0, // SSE connections outlive any write deadline
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(supervisor.ServiceFunc{Name: "broadcast-hub", Run: hub.Serve})
	tree.AddMessagingService(supervisor.ServiceFunc{Name: "bus-forwarder", Run: forwarder.Serve})
	if cfg.Retention.Enabled {
		tree.AddMessagingService(retention.NewPurger(db, cfg.Retention))
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))

	logging.Info().Str("listen", cfg.ListenAddr()).Msg("Cartscope ready")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("Cartscope stopped")
}
