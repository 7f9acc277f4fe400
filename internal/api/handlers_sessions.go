// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/database"
	"github.com/cartscope/cartscope/internal/models"
)

// ListSessions returns a tenant's sessions ordered by most recent activity.
// GET /api/v1/sessions?shop_domain=...&state=...&limit=...&offset=...
//
// With bot filtering enabled on the tenant, suspected-bot sessions are
// hidden from the listing but still exist in the store.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	tenant, ok := h.tenantFromQuery(w, r)
	if !ok {
		return
	}

	filter := database.SessionFilter{
		ExcludeBots: tenant.BotFiltering,
		Limit:       h.pageSize(r.URL.Query().Get("limit")),
		Offset:      parseOffset(r.URL.Query().Get("offset")),
	}
	if state := r.URL.Query().Get("state"); state != "" {
		fs := models.FunnelState(state)
		if !fs.Valid() {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unknown funnel state", nil)
			return
		}
		filter.FunnelState = fs
	}

	sessions, err := h.db.ListRecentSessions(r.Context(), tenant.ID, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to list sessions", err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	}, started)
}

// GetSession returns one session with its full event history.
// GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid session ID", nil)
		return
	}

	session, err := h.db.GetSessionByID(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to load session", err)
		return
	}

	events, err := h.db.ListEventsBySession(r.Context(), session.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to load session events", err)
		return
	}
	session.Events = events

	respondSuccess(w, http.StatusOK, map[string]interface{}{"session": session}, started)
}

// Stats returns the tenant's funnel distribution.
// GET /api/v1/stats?shop_domain=...
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	tenant, ok := h.tenantFromQuery(w, r)
	if !ok {
		return
	}

	counts, err := h.db.CountSessionsByState(r.Context(), tenant.ID, tenant.BotFiltering)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to compute funnel stats", err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{"funnel": counts}, started)
}

// tenantFromQuery resolves the shop_domain query parameter to a tenant,
// writing the error response itself on failure.
func (h *Handler) tenantFromQuery(w http.ResponseWriter, r *http.Request) (*models.Tenant, bool) {
	shopDomain := r.URL.Query().Get("shop_domain")
	if shopDomain == "" {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Missing shop_domain parameter", nil)
		return nil, false
	}

	tenant, err := h.db.GetTenantByDomain(r.Context(), shopDomain)
	if err != nil {
		if database.IsNotFound(err) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown store", nil)
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to resolve store", err)
		return nil, false
	}
	return tenant, true
}

func (h *Handler) pageSize(raw string) int {
	size := h.cfg.API.DefaultPageSize
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			size = parsed
		}
	}
	if max := h.cfg.API.MaxPageSize; max > 0 && size > max {
		size = max
	}
	return size
}

func parseOffset(raw string) int {
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
