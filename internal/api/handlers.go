// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"time"

	"github.com/cartscope/cartscope/internal/broadcast"
	"github.com/cartscope/cartscope/internal/cache"
	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/database"
	"github.com/cartscope/cartscope/internal/reconcile"
)

// maxBodyBytes caps inbound webhook and pixel payloads.
const maxBodyBytes = 1 << 20 // 1 MB

// Handler holds the HTTP handlers and their dependencies. One instance
// serves all routes.
type Handler struct {
	cfg        *config.Config
	db         *database.DB
	reconciler *reconcile.Reconciler
	hub        *broadcast.Hub

	// pixelDedupe drops replayed pixel events by event ID before they
	// reach the reconciler.
	pixelDedupe *cache.Dedupe
}

// NewHandler wires the handler with its dependencies.
func NewHandler(cfg *config.Config, db *database.DB, rec *reconcile.Reconciler, hub *broadcast.Hub) *Handler {
	return &Handler{
		cfg:         cfg,
		db:          db,
		reconciler:  rec,
		hub:         hub,
		pixelDedupe: cache.NewDedupe(8192, 10*time.Minute),
	}
}
