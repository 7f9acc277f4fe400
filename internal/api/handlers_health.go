// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"net/http"
	"time"
)

// Health reports overall service health including the event store.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	status := "healthy"
	dbStatus := "up"
	code := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		dbStatus = "down"
		code = http.StatusServiceUnavailable
	}

	respondSuccess(w, code, map[string]interface{}{
		"status":           status,
		"database":         dbStatus,
		"live_connections": h.hub.TotalClients(),
	}, started)
}

// HealthLive is the liveness probe: the process is up and serving.
// GET /api/v1/health/live
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, time.Now())
}

// HealthReady is the readiness probe: the event store is reachable.
// GET /api/v1/health/ready
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if err := h.db.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Event store not reachable", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, started)
}
