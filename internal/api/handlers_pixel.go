// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/metrics"
	"github.com/cartscope/cartscope/internal/models"
	"github.com/cartscope/cartscope/internal/reconcile"
	"github.com/cartscope/cartscope/internal/validation"
)

// PixelEvents ingests storefront beacon events.
// POST /pixel/events
//
// Pixel traffic is rate-limited and validated before it reaches the
// reconciler, and every beacon carries an event ID that backs both the
// in-memory TTL dedupe here and the store-level uniqueness key for appended
// events. Events with neither a cart token nor a visitor ID are acknowledged
// and dropped.
func (h *Handler) PixelEvents(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	if !h.cfg.Pixel.Enabled {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Pixel intake disabled", nil)
		return
	}

	shopDomain := r.Header.Get(headerShopDomain)
	if shopDomain == "" {
		metrics.PixelEventsReceived.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Missing "+headerShopDomain+" header", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.PixelEventsReceived.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unreadable request body", err)
		return
	}

	var event models.PixelEvent
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.PixelEventsReceived.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Malformed pixel payload", err)
		return
	}
	if verr := validation.ValidateStruct(&event); verr != nil {
		metrics.PixelEventsReceived.WithLabelValues("invalid").Inc()
		respondValidationError(w, verr.Error(), verr.Details())
		return
	}
	if !models.ValidPixelEventName(event.Name) {
		metrics.PixelEventsReceived.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unknown pixel event name", nil)
		return
	}

	// Browsers re-fire beacons on flaky connections; the event ID makes
	// replays cheap to drop before they hit the store.
	if h.pixelDedupe.Seen(shopDomain + ":" + event.EventID) {
		metrics.PixelEventsReceived.WithLabelValues("duplicate").Inc()
		respondSuccess(w, http.StatusOK, map[string]string{"result": "duplicate"}, started)
		return
	}

	tenant, err := h.db.UpsertTenantByDomain(r.Context(), shopDomain)
	if err != nil {
		metrics.PixelEventsReceived.WithLabelValues("error").Inc()
		respondError(w, http.StatusServiceUnavailable, ErrCodeDatabaseError, "Store temporarily unavailable", err)
		return
	}

	_, err = h.reconciler.ApplyPixelEvent(r.Context(), tenant, &event)
	switch {
	case err == nil:
		metrics.PixelEventsReceived.WithLabelValues("applied").Inc()
		respondSuccess(w, http.StatusOK, map[string]string{"result": "ok"}, started)

	case errors.Is(err, reconcile.ErrMissingToken):
		metrics.PixelEventsReceived.WithLabelValues("invalid").Inc()
		logging.Debug().
			Str("event", sanitizeLogValue(event.Name)).
			Msg("pixel event without cart token or visitor ID dropped")
		respondSuccess(w, http.StatusOK, map[string]string{"result": "dropped"}, started)

	default:
		metrics.PixelEventsReceived.WithLabelValues("error").Inc()
		respondError(w, http.StatusServiceUnavailable, ErrCodeDatabaseError, "Store temporarily unavailable", err)
	}
}
