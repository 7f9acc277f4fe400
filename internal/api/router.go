// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartscope/cartscope/internal/middleware"
)

// NewRouter assembles the HTTP surface: platform webhooks, pixel intake,
// the SSE live feed, the dashboard read API, health and metrics.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	if origins := h.cfg.Security.CORSOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			MaxAge:         86400,
		}))
	}

	// Platform webhooks. Signature verification happens in the handlers so
	// an invalid signature is observable per topic.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/cart", h.WebhookCart)
		r.Post("/checkout", h.WebhookCheckout)
		r.Post("/order", h.WebhookOrder)
		r.Post("/app/uninstalled", h.WebhookAppUninstalled)
		r.Post("/redact", h.WebhookRedact)
	})

	// Pixel intake is browser-originated and unauthenticated, so it gets
	// its own per-IP rate limit.
	r.Route("/pixel", func(r chi.Router) {
		if h.cfg.Pixel.RateLimitReqs > 0 {
			r.Use(httprate.Limit(
				h.cfg.Pixel.RateLimitReqs,
				h.cfg.Pixel.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByRealIP),
				httprate.WithLimitHandler(rateLimited),
			))
		}
		r.Post("/events", h.PixelEvents)
	})

	// Live dashboard feed.
	r.Get("/live/{shopDomain}", h.LiveFeed)

	// Dashboard read API.
	r.Route("/api/v1", func(r chi.Router) {
		if !h.cfg.Security.RateLimitDisabled && h.cfg.Security.RateLimitReqs > 0 {
			r.Use(httprate.Limit(
				h.cfg.Security.RateLimitReqs,
				h.cfg.Security.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByRealIP),
				httprate.WithLimitHandler(rateLimited),
			))
		}

		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/stats", h.Stats)

		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.Health)
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded,
		"Too many requests, slow down", nil)
}
