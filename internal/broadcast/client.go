// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package broadcast

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/logging"
)

// clientIDCounter assigns unique, monotonically increasing IDs so the hub
// can iterate viewers in a stable order.
var clientIDCounter atomic.Uint64

// Client is one dashboard viewer's SSE connection. Frames are pre-serialized
// by the hub and queued on send; the viewer's ServeSSE loop drains them onto
// the wire.
type Client struct {
	id         uint64
	tenantID   uuid.UUID
	shopDomain string
	send       chan []byte
}

func newClient(tenantID uuid.UUID, shopDomain string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		id:         clientIDCounter.Add(1),
		tenantID:   tenantID,
		shopDomain: shopDomain,
		send:       make(chan []byte, buffer),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// formatFrame renders a complete SSE frame. Payload lines are split on
// newlines per the SSE framing rules, though in practice the JSON encoder
// emits a single line.
func formatFrame(event string, payload []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", event)
	for _, line := range bytes.Split(payload, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// keepaliveFrame is a comment-only line; intermediaries treat it as traffic
// so idle connections are not reaped, and browsers ignore it.
var keepaliveFrame = []byte(": keepalive\n\n")

// ServeSSE streams frames to the viewer until the context is canceled, the
// hub closes the client, or a write fails. The caller is responsible for
// unsubscribing the client from the hub afterwards.
func (c *Client) ServeSSE(ctx context.Context, w http.ResponseWriter, keepalive time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	greeting := formatFrame(EventConnected, []byte(fmt.Sprintf(`{"shop_domain":%q}`, c.shopDomain)))
	if _, err := w.Write(greeting); err != nil {
		return fmt.Errorf("write connected event: %w", err)
	}
	flusher.Flush()

	if keepalive <= 0 {
		keepalive = 25 * time.Second
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-c.send:
			if !ok {
				// Hub closed this client (shutdown or slow-viewer drop).
				return nil
			}
			if _, err := w.Write(frame); err != nil {
				logging.Debug().Err(err).Str("shop_domain", c.shopDomain).Msg("viewer write failed")
				return err
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write(keepaliveFrame); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
