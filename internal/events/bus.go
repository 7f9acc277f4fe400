// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package events carries session updates from the reconciliation pipeline to
// the broadcast hub over an in-process watermill bus. The indirection keeps
// reconciliation latency independent of viewer fan-out and leaves room for an
// external broker later without touching the pipeline.
package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/metrics"
	"github.com/cartscope/cartscope/internal/models"
)

// TopicSessionUpdated carries one SessionUpdate per message.
const TopicSessionUpdated = "session.updated"

// Metadata keys set on published messages.
const (
	MetadataTenantID  = "tenant_id"
	MetadataCartToken = "cart_token"
)

// Bus is the in-process pub/sub connecting reconciliation to live broadcast.
// It satisfies the reconciler's Publisher interface.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the bus with a bounded output buffer per subscriber.
func NewBus(cfg config.BusConfig) *Bus {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(buffer),
		}, NewLoggerAdapter()),
	}
}

// PublishSessionUpdate serializes the update and publishes it on the
// session.updated topic.
func (b *Bus) PublishSessionUpdate(_ context.Context, update *models.SessionUpdate) error {
	if update == nil || update.Session == nil {
		return fmt.Errorf("session update requires a session")
	}

	payload, err := json.Marshal(update)
	if err != nil {
		metrics.BusMessagesFailed.WithLabelValues(TopicSessionUpdated).Inc()
		return fmt.Errorf("marshal session update: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataTenantID, update.Session.TenantID.String())
	msg.Metadata.Set(MetadataCartToken, update.Session.CartToken)

	if err := b.pubsub.Publish(TopicSessionUpdated, msg); err != nil {
		metrics.BusMessagesFailed.WithLabelValues(TopicSessionUpdated).Inc()
		return fmt.Errorf("publish session update: %w", err)
	}

	metrics.BusMessagesPublished.WithLabelValues(TopicSessionUpdated).Inc()
	return nil
}

// Subscribe returns the message stream for a topic. The channel closes when
// the context is canceled or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close tears down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
