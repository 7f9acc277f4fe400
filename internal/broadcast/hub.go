// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package broadcast fans live session updates out to connected dashboard
// viewers over Server-Sent Events. Viewers subscribe per tenant; an update
// published for one tenant is never visible to another tenant's viewers.
package broadcast

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/metrics"
	"github.com/cartscope/cartscope/internal/models"
)

// SSE event names pushed to dashboard viewers.
const (
	EventConnected  = "connected"
	EventCartUpdate = "cart-update"
)

// Hub maintains the set of connected viewers, keyed by tenant, and fans
// session updates out to them. Slow viewers never block reconciliation:
// a viewer whose send buffer is full is dropped and removed.
type Hub struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]map[*Client]bool

	maxPerTenant int
	sendBuffer   int
}

// NewHub creates a hub sized from the live-dashboard configuration.
func NewHub(cfg config.LiveConfig) *Hub {
	return &Hub{
		tenants:      make(map[uuid.UUID]map[*Client]bool),
		maxPerTenant: cfg.MaxConnectionsPerTenant,
		sendBuffer:   cfg.SendBuffer,
	}
}

// Subscribe registers a new viewer for the given tenant. It returns nil when
// the tenant is already at its connection cap; the caller should reject the
// request so one noisy storefront cannot exhaust server resources.
func (h *Hub) Subscribe(tenantID uuid.UUID, shopDomain string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	viewers := h.tenants[tenantID]
	if h.maxPerTenant > 0 && len(viewers) >= h.maxPerTenant {
		metrics.LiveConnectionsRejected.Inc()
		logging.Warn().
			Str("shop_domain", shopDomain).
			Int("connections", len(viewers)).
			Msg("viewer rejected, tenant connection cap reached")
		return nil
	}

	client := newClient(tenantID, shopDomain, h.sendBuffer)
	if viewers == nil {
		viewers = make(map[*Client]bool)
		h.tenants[tenantID] = viewers
	}
	viewers[client] = true

	metrics.LiveConnections.WithLabelValues(shopDomain).Inc()
	logging.Info().
		Str("shop_domain", shopDomain).
		Int("connections", len(viewers)).
		Msg("dashboard viewer connected")
	return client
}

// Unsubscribe removes a viewer and closes its send channel. Safe to call
// more than once for the same client.
func (h *Hub) Unsubscribe(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, "dashboard viewer disconnected")
}

// removeLocked deletes a client from its tenant set and closes its send
// channel exactly once. Callers must hold h.mu.
func (h *Hub) removeLocked(client *Client, msg string) {
	viewers, ok := h.tenants[client.tenantID]
	if !ok || !viewers[client] {
		return
	}

	delete(viewers, client)
	if len(viewers) == 0 {
		delete(h.tenants, client.tenantID)
	}
	close(client.send)

	metrics.LiveConnections.WithLabelValues(client.shopDomain).Dec()
	logging.Info().
		Str("shop_domain", client.shopDomain).
		Int("connections", len(viewers)).
		Msg(msg)
}

// Publish serializes the update once and enqueues the resulting SSE frame on
// every viewer of the session's tenant. The enqueue is non-blocking: viewers
// that cannot keep up are removed rather than stalling the pipeline. With no
// viewers connected the call is a no-op.
func (h *Hub) Publish(tenantID uuid.UUID, update *models.SessionUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	viewers := h.tenants[tenantID]
	if len(viewers) == 0 {
		// Closed dashboards simply miss the update; no queuing or replay.
		logging.Debug().
			Str("tenant_id", tenantID.String()).
			Msg("no viewers connected, update not broadcast")
		return
	}

	payload, err := json.Marshal(update)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal session update for broadcast")
		return
	}
	frame := formatFrame(EventCartUpdate, payload)

	// Deliver in client-ID order so delivery and removal are deterministic.
	clients := make([]*Client, 0, len(viewers))
	for client := range viewers {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- frame:
			metrics.LiveUpdatesPublished.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		metrics.LiveUpdatesDropped.Inc()
		h.removeLocked(client, "dashboard viewer dropped, send buffer full")
	}
}

// ClientCount returns the number of connected viewers for a tenant.
func (h *Hub) ClientCount(tenantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

// TotalClients returns the number of connected viewers across all tenants.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, viewers := range h.tenants {
		total += len(viewers)
	}
	return total
}

// Serve blocks until the context is canceled, then closes every connected
// viewer. Designed for supervision: a restart begins with an empty registry
// and viewers reconnect through their SSE handlers.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	h.closeAll()
	return ctx.Err()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	closed := 0
	for _, viewers := range h.tenants {
		for client := range viewers {
			close(client.send)
			closed++
			metrics.LiveConnections.WithLabelValues(client.shopDomain).Dec()
		}
	}
	h.tenants = make(map[uuid.UUID]map[*Client]bool)

	logging.Info().
		Str("component", "broadcast-hub").
		Int("clients_closed", closed).
		Msg("broadcast hub stopped")
}
