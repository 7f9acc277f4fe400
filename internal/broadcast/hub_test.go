// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package broadcast

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func testHub(maxPerTenant, sendBuffer int) *Hub {
	return NewHub(config.LiveConfig{
		MaxConnectionsPerTenant: maxPerTenant,
		SendBuffer:              sendBuffer,
		KeepaliveInterval:       25 * time.Second,
	})
}

func testUpdate(token string) *models.SessionUpdate {
	return &models.SessionUpdate{
		Session: &models.CartSession{
			ID:          uuid.New(),
			CartToken:   token,
			FunnelState: models.StateBrowsing,
		},
	}
}

// receiveFrame reads one frame without blocking the test forever.
func receiveFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed while expecting a frame")
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestPublishDeliversCartUpdateFrame(t *testing.T) {
	hub := testHub(5, 8)
	tenantID := uuid.New()

	client := hub.Subscribe(tenantID, "shop-a.example.com")
	if client == nil {
		t.Fatal("expected subscription to succeed")
	}
	defer hub.Unsubscribe(client)

	hub.Publish(tenantID, testUpdate("tok-live-1"))

	frame := string(receiveFrame(t, client))
	if !strings.HasPrefix(frame, "event: cart-update\n") {
		t.Errorf("frame missing event name: %q", frame)
	}
	if !strings.Contains(frame, `"cart_token":"tok-live-1"`) {
		t.Errorf("frame missing session payload: %q", frame)
	}
	if !strings.HasSuffix(frame, "\n\n") {
		t.Errorf("frame not terminated by blank line: %q", frame)
	}
}

func TestPublishIsTenantScoped(t *testing.T) {
	hub := testHub(5, 8)
	tenantA := uuid.New()
	tenantB := uuid.New()

	viewerA := hub.Subscribe(tenantA, "shop-a.example.com")
	viewerB := hub.Subscribe(tenantB, "shop-b.example.com")
	defer hub.Unsubscribe(viewerA)
	defer hub.Unsubscribe(viewerB)

	hub.Publish(tenantA, testUpdate("tok-a"))

	receiveFrame(t, viewerA)

	select {
	case frame := <-viewerB.send:
		t.Errorf("tenant B viewer received tenant A update: %q", frame)
	default:
	}
}

func TestPublishWithoutViewersIsNoOp(t *testing.T) {
	hub := testHub(5, 8)
	hub.Publish(uuid.New(), testUpdate("tok-nobody"))
}

func TestSubscribeEnforcesTenantCap(t *testing.T) {
	hub := testHub(1, 8)
	tenantID := uuid.New()

	first := hub.Subscribe(tenantID, "shop-a.example.com")
	if first == nil {
		t.Fatal("first subscription should succeed")
	}
	if second := hub.Subscribe(tenantID, "shop-a.example.com"); second != nil {
		t.Error("second subscription should be rejected at cap 1")
	}

	// Other tenants are unaffected by shop-a's cap.
	if other := hub.Subscribe(uuid.New(), "shop-b.example.com"); other == nil {
		t.Error("other tenant subscription should succeed")
	}

	// Freeing the slot allows a new viewer in.
	hub.Unsubscribe(first)
	if replacement := hub.Subscribe(tenantID, "shop-a.example.com"); replacement == nil {
		t.Error("subscription after unsubscribe should succeed")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := testHub(5, 8)
	tenantID := uuid.New()

	client := hub.Subscribe(tenantID, "shop-a.example.com")
	hub.Unsubscribe(client)
	hub.Unsubscribe(client)
	hub.Unsubscribe(nil)

	if got := hub.ClientCount(tenantID); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
}

func TestSlowViewerIsDroppedHealthyViewerKeepsReceiving(t *testing.T) {
	hub := testHub(5, 1)
	tenantID := uuid.New()

	healthy := hub.Subscribe(tenantID, "shop-a.example.com")
	slow := hub.Subscribe(tenantID, "shop-a.example.com")

	hub.Publish(tenantID, testUpdate("tok-1"))
	receiveFrame(t, healthy)

	// The slow viewer's one-slot buffer is still full, so this publish
	// drops and removes it while the healthy viewer is served.
	hub.Publish(tenantID, testUpdate("tok-2"))

	frame := string(receiveFrame(t, healthy))
	if !strings.Contains(frame, `"cart_token":"tok-2"`) {
		t.Errorf("healthy viewer missed second update: %q", frame)
	}

	if got := hub.ClientCount(tenantID); got != 1 {
		t.Errorf("ClientCount = %d, want 1 after slow viewer removed", got)
	}

	// The slow viewer's channel holds the first frame, then is closed.
	receiveFrame(t, slow)
	if _, ok := <-slow.send; ok {
		t.Error("slow viewer channel should be closed after removal")
	}

	hub.Unsubscribe(healthy)
}

func TestServeStopsAndClosesViewersOnCancel(t *testing.T) {
	hub := testHub(5, 8)
	tenantID := uuid.New()
	client := hub.Subscribe(tenantID, "shop-a.example.com")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, ok := <-client.send; ok {
		t.Error("client channel should be closed after shutdown")
	}
	if got := hub.TotalClients(); got != 0 {
		t.Errorf("TotalClients = %d, want 0 after shutdown", got)
	}
}

func TestServeSSEStreamsGreetingAndFrames(t *testing.T) {
	hub := testHub(5, 8)
	tenantID := uuid.New()
	client := hub.Subscribe(tenantID, "shop-a.example.com")

	hub.Publish(tenantID, testUpdate("tok-sse"))
	// Closing the client after the frame is queued lets ServeSSE drain it
	// and return without a separate goroutine.
	hub.Unsubscribe(client)

	rec := httptest.NewRecorder()
	if err := client.ServeSSE(context.Background(), rec, time.Minute); err != nil {
		t.Fatalf("ServeSSE returned error: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: connected\n") {
		t.Errorf("body missing connected greeting: %q", body)
	}
	if !strings.Contains(body, "event: cart-update\n") {
		t.Errorf("body missing cart-update frame: %q", body)
	}
	if !strings.Contains(body, `"cart_token":"tok-sse"`) {
		t.Errorf("body missing session payload: %q", body)
	}
}

func TestFormatFrameSplitsMultilinePayload(t *testing.T) {
	frame := string(formatFrame("cart-update", []byte("line1\nline2")))
	want := "event: cart-update\ndata: line1\ndata: line2\n\n"
	if frame != want {
		t.Errorf("formatFrame = %q, want %q", frame, want)
	}
}
