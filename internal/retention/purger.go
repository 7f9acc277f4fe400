// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package retention removes sessions whose last activity fell outside their
// tenant's retention window.
package retention

import (
	"context"
	"time"

	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/metrics"
)

// Store is the slice of the event store the purger needs.
type Store interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// Purger periodically deletes expired sessions. Runs under supervision; a
// failed purge is logged and retried on the next tick rather than crashing
// the service.
type Purger struct {
	store    Store
	interval time.Duration
}

// NewPurger creates a purger with the configured check interval.
func NewPurger(store Store, cfg config.RetentionConfig) *Purger {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Purger{store: store, interval: interval}
}

// Serve implements suture.Service: one purge immediately, then one per
// interval until the context is canceled.
func (p *Purger) Serve(ctx context.Context) error {
	p.purge(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.purge(ctx)
		}
	}
}

func (p *Purger) purge(ctx context.Context) {
	purged, err := p.store.PurgeExpiredSessions(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("retention purge failed")
		return
	}
	if purged > 0 {
		metrics.SessionsPurged.Add(float64(purged))
	}
}

// String identifies the service in supervisor logs.
func (p *Purger) String() string {
	return "retention-purger"
}
