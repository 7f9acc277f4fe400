// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cartscope/cartscope/internal/database"
	"github.com/cartscope/cartscope/internal/logging"
)

// LiveFeed attaches a dashboard viewer to the tenant's live SSE stream.
// GET /live/{shopDomain}
//
// The viewer stays connected until it disconnects or the server shuts down.
// Tenants at their connection cap are answered with 503 so the dashboard
// backs off instead of hammering reconnects.
func (h *Handler) LiveFeed(w http.ResponseWriter, r *http.Request) {
	shopDomain := chi.URLParam(r, "shopDomain")
	if shopDomain == "" {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Missing shop domain", nil)
		return
	}

	// Viewers can only watch stores that already exist; the feed never
	// creates tenants.
	tenant, err := h.db.GetTenantByDomain(r.Context(), shopDomain)
	if err != nil {
		if database.IsNotFound(err) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown store", nil)
			return
		}
		respondError(w, http.StatusServiceUnavailable, ErrCodeDatabaseError, "Store temporarily unavailable", err)
		return
	}

	client := h.hub.Subscribe(tenant.ID, tenant.ShopDomain)
	if client == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeConnectionLimit,
			"Too many live dashboard connections for this store", nil)
		return
	}
	defer h.hub.Unsubscribe(client)

	if err := client.ServeSSE(r.Context(), w, h.cfg.Live.KeepaliveInterval); err != nil {
		logging.Debug().Err(err).
			Str("shop_domain", sanitizeLogValue(shopDomain)).
			Msg("live feed ended with error")
	}
}
