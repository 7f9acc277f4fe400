// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package enrich resolves product image URLs for dashboard display.
//
// Webhook payloads usually carry an image URL; when they don't, the resolver
// falls back to the storefront's public product JSON endpoint. Origin lookups
// are advisory: they are rate limited, guarded by a circuit breaker, and any
// failure degrades to an empty image rather than an error so enrichment can
// never stall reconciliation.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/cartscope/cartscope/internal/cache"
	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/metrics"
)

const cacheTTL = time.Hour

// Resolver resolves and caches product image URLs per (tenant, product).
type Resolver struct {
	cfg     *config.EnrichConfig
	client  *http.Client
	cache   *cache.LRU[string]
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[string]

	// originBase overrides the per-shop origin URL, for tests.
	originBase string
}

// NewResolver creates an image resolver from config.
func NewResolver(cfg *config.EnrichConfig) *Resolver {
	cbName := "storefront-origin"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Resolver{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache.NewLRU[string](cfg.CacheSize, cacheTTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cb:      cb,
	}
}

// ResolveImage returns the best available image URL for a product, or empty.
// A webhook-supplied URL always wins and refreshes the cache; otherwise the
// cache is consulted, then the storefront origin if the rate limit and
// breaker allow.
func (r *Resolver) ResolveImage(ctx context.Context, shopDomain, productID, webhookImage string) string {
	if productID == "" {
		return webhookImage
	}
	key := shopDomain + "/" + productID

	if webhookImage != "" {
		r.cache.Add(key, webhookImage)
		return webhookImage
	}

	if cached, ok := r.cache.Get(key); ok {
		metrics.EnrichLookups.WithLabelValues("cache_hit").Inc()
		return cached
	}

	if !r.cfg.Enabled {
		return ""
	}

	if !r.limiter.Allow() {
		metrics.EnrichLookups.WithLabelValues("throttled").Inc()
		return ""
	}

	imageURL, err := r.cb.Execute(func() (string, error) {
		return r.fetchImage(ctx, shopDomain, productID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.EnrichLookups.WithLabelValues("throttled").Inc()
		} else {
			metrics.EnrichLookups.WithLabelValues("error").Inc()
			logging.Debug().Err(err).Str("shop", shopDomain).Str("product", productID).Msg("Image lookup failed")
		}
		return ""
	}

	if imageURL == "" {
		metrics.EnrichLookups.WithLabelValues("miss").Inc()
		return ""
	}

	metrics.EnrichLookups.WithLabelValues("resolved").Inc()
	r.cache.Add(key, imageURL)
	return imageURL
}

// productPayload mirrors the storefront's public product JSON shape.
type productPayload struct {
	Product struct {
		Image struct {
			Src string `json:"src"`
		} `json:"image"`
		Images []struct {
			Src string `json:"src"`
		} `json:"images"`
	} `json:"product"`
}

func (r *Resolver) fetchImage(ctx context.Context, shopDomain, productID string) (string, error) {
	base := r.originBase
	if base == "" {
		base = "https://" + shopDomain
	}
	url := fmt.Sprintf("%s/products/%s.json", base, productID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build product request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("product lookup failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		// Product withdrawn from the storefront; not a breaker-worthy failure.
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("product lookup returned status %d", resp.StatusCode)
	}

	var payload productPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode product payload: %w", err)
	}

	if payload.Product.Image.Src != "" {
		return payload.Product.Image.Src, nil
	}
	if len(payload.Product.Images) > 0 {
		return payload.Product.Images[0].Src, nil
	}
	return "", nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
