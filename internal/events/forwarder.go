// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package events

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/models"
)

// LiveHub receives decoded session updates for fan-out to dashboard viewers.
type LiveHub interface {
	Publish(tenantID uuid.UUID, update *models.SessionUpdate)
}

// Forwarder drains the session.updated topic into the broadcast hub. Bad
// messages are acked and dropped; a malformed update must never wedge the
// live feed.
type Forwarder struct {
	bus *Bus
	hub LiveHub
}

// NewForwarder creates a forwarder between the bus and the hub.
func NewForwarder(bus *Bus, hub LiveHub) *Forwarder {
	return &Forwarder{bus: bus, hub: hub}
}

// Serve consumes session updates until the context is canceled. Designed to
// run under supervision.
func (f *Forwarder) Serve(ctx context.Context) error {
	messages, err := f.bus.Subscribe(ctx, TopicSessionUpdated)
	if err != nil {
		return err
	}

	logging.Info().Str("topic", TopicSessionUpdated).Msg("live update forwarder started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}

			var update models.SessionUpdate
			if err := json.Unmarshal(msg.Payload, &update); err != nil {
				logging.Error().Err(err).
					Str("message_id", msg.UUID).
					Msg("dropping undecodable session update")
				msg.Ack()
				continue
			}
			if update.Session == nil {
				logging.Error().Str("message_id", msg.UUID).Msg("dropping session update without session")
				msg.Ack()
				continue
			}

			f.hub.Publish(update.Session.TenantID, &update)
			msg.Ack()
		}
	}
}
