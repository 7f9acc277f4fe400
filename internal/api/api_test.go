// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/cartscope/cartscope/internal/broadcast"
	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/database"
	"github.com/cartscope/cartscope/internal/enrich"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/models"
	"github.com/cartscope/cartscope/internal/reconcile"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const (
	testSecret = "test-webhook-secret"
	testShop   = "shop-a.example.com"
)

// nopPublisher satisfies reconcile.Publisher; broadcast delivery has its own
// package tests.
type nopPublisher struct{}

func (nopPublisher) PublishSessionUpdate(_ context.Context, _ *models.SessionUpdate) error {
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Webhooks = config.WebhooksConfig{Secret: testSecret, RequireSignature: true}
	cfg.Pixel = config.PixelConfig{Enabled: true}
	cfg.Live = config.LiveConfig{MaxConnectionsPerTenant: 2, SendBuffer: 8, KeepaliveInterval: 25 * time.Second}
	cfg.API = config.APIConfig{DefaultPageSize: 20, MaxPageSize: 100}
	cfg.Security = config.SecurityConfig{RateLimitDisabled: true}
	cfg.Enrich = config.EnrichConfig{Enabled: false, CacheSize: 64}
	cfg.Identity = config.IdentityConfig{NamePrecedence: []string{"checkout", "order", "pixel"}}
	return cfg
}

// newTestServer wires the full HTTP surface against an in-memory event store.
func newTestServer(t *testing.T) (http.Handler, *Handler) {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{
		Path:                   ":memory:",
		MaxMemory:              "512MB",
		Threads:                2,
		PreserveInsertionOrder: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := testConfig()
	hub := broadcast.NewHub(cfg.Live)
	resolver := enrich.NewResolver(&cfg.Enrich)
	rec := reconcile.New(db, resolver, nopPublisher{}, cfg.Identity)

	handler := NewHandler(cfg, db, rec, hub)
	return NewRouter(handler), handler
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// postWebhook sends a signed webhook for the test shop.
func postWebhook(t *testing.T, router http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("X-Shop-Domain", testShop)
	req.Header.Set("X-Webhook-Hmac", sign(body))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return &resp
}

func cartPayload(token string, items ...models.LineItem) models.CartNotification {
	return models.CartNotification{Token: token, LineItems: items}
}

func item(productID, variantID string, qty int, price float64) models.LineItem {
	return models.LineItem{
		ProductID: productID,
		VariantID: variantID,
		Title:     "Product " + productID,
		Quantity:  qty,
		Price:     price,
	}
}

func TestWebhookCartCreatesSession(t *testing.T) {
	router, _ := newTestServer(t)

	rec := postWebhook(t, router, "/webhooks/cart",
		cartPayload("tok-api-1", item("p1", "v1", 2, 10), item("p2", "v2", 1, 5)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	list := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?shop_domain="+testShop, nil)
	lrec := httptest.NewRecorder()
	router.ServeHTTP(lrec, list)
	if lrec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", lrec.Code, lrec.Body.String())
	}

	resp := decodeResponse(t, lrec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", resp.Data)
	}
	if count, _ := data["count"].(float64); count != 1 {
		t.Errorf("session count = %v, want 1", data["count"])
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router, _ := newTestServer(t)

	body, _ := json.Marshal(cartPayload("tok-sig", item("p1", "v1", 1, 10)))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cart", bytes.NewReader(body))
	req.Header.Set("X-Shop-Domain", testShop)
	req.Header.Set("X-Webhook-Hmac", "deadbeef")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v, want UNAUTHORIZED", resp.Error)
	}
}

func TestWebhookRequiresShopDomain(t *testing.T) {
	router, _ := newTestServer(t)

	body, _ := json.Marshal(cartPayload("tok-x", item("p1", "v1", 1, 10)))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cart", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Hmac", sign(body))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookCartValidationFailure(t *testing.T) {
	router, _ := newTestServer(t)

	rec := postWebhook(t, router, "/webhooks/cart", cartPayload("tok-bad", item("p1", "v1", -2, 10)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error == nil || resp.Error.Code != ErrCodeValidationError {
		t.Errorf("error = %+v, want VALIDATION_ERROR", resp.Error)
	}
}

// Cart and checkout notifications without a correlation token can never be
// attributed; they are acknowledged so the platform stops redelivering them.
func TestWebhookTokenlessCartAndCheckoutAcknowledged(t *testing.T) {
	router, _ := newTestServer(t)

	for _, path := range []string{"/webhooks/cart", "/webhooks/checkout"} {
		rec := postWebhook(t, router, path, cartPayload("", item("p1", "v1", 1, 10)))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200 for tokenless notification", path, rec.Code)
		}
		resp := decodeResponse(t, rec)
		data, ok := resp.Data.(map[string]interface{})
		if !ok || data["result"] != "dropped" {
			t.Errorf("%s data = %+v, want result dropped", path, resp.Data)
		}
	}
}

func TestWebhookOrderWithoutTokenIsAcknowledged(t *testing.T) {
	router, _ := newTestServer(t)

	rec := postWebhook(t, router, "/webhooks/order",
		models.OrderNotification{OrderID: "ord-1", TotalPrice: 99})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for unattributable order", rec.Code)
	}
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	router, _ := newTestServer(t)

	payload := cartPayload("tok-replay", item("p1", "v1", 2, 10))
	for i := 0; i < 3; i++ {
		if rec := postWebhook(t, router, "/webhooks/cart", payload); rec.Code != http.StatusOK {
			t.Fatalf("replay %d status = %d", i, rec.Code)
		}
	}

	sessionID := firstSessionID(t, router)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	session := data["session"].(map[string]interface{})
	events, _ := session["events"].([]interface{})
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 after replayed snapshot", len(events))
	}
	if total, _ := session["cart_total"].(float64); total != 20 {
		t.Errorf("cart_total = %v, want 20", session["cart_total"])
	}
}

func firstSessionID(t *testing.T, router http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?shop_domain="+testShop, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions status = %d", rec.Code)
	}

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	sessions, _ := data["sessions"].([]interface{})
	if len(sessions) == 0 {
		t.Fatal("no sessions found")
	}
	first := sessions[0].(map[string]interface{})
	id, _ := first["id"].(string)
	return id
}

func TestStatsReportsFunnelCounts(t *testing.T) {
	router, _ := newTestServer(t)

	postWebhook(t, router, "/webhooks/cart", cartPayload("tok-s1", item("p1", "v1", 1, 10)))
	postWebhook(t, router, "/webhooks/checkout", models.CheckoutNotification{Token: "tok-s2"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats?shop_domain="+testShop, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	funnel, ok := data["funnel"].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected funnel shape: %+v", data)
	}
	if browsing, _ := funnel["browsing"].(float64); browsing != 1 {
		t.Errorf("browsing = %v, want 1", funnel["browsing"])
	}
	if checkout, _ := funnel["checkout"].(float64); checkout != 1 {
		t.Errorf("checkout = %v, want 1", funnel["checkout"])
	}
}

func TestAppUninstalledDeletesTenant(t *testing.T) {
	router, _ := newTestServer(t)

	postWebhook(t, router, "/webhooks/cart", cartPayload("tok-u1", item("p1", "v1", 1, 10)))
	if rec := postWebhook(t, router, "/webhooks/app/uninstalled", map[string]string{}); rec.Code != http.StatusOK {
		t.Fatalf("uninstall status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?shop_domain="+testShop, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for uninstalled store", rec.Code)
	}
}

func TestRedactDeletesCustomerSessions(t *testing.T) {
	router, _ := newTestServer(t)

	postWebhook(t, router, "/webhooks/checkout", models.CheckoutNotification{
		Token: "tok-r1",
		Email: "jess@example.com",
	})

	rec := postWebhook(t, router, "/webhooks/redact",
		models.RedactNotification{Email: "jess@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("redact status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?shop_domain="+testShop, nil)
	lrec := httptest.NewRecorder()
	router.ServeHTTP(lrec, req)
	resp := decodeResponse(t, lrec)
	data := resp.Data.(map[string]interface{})
	if count, _ := data["count"].(float64); count != 0 {
		t.Errorf("count = %v, want 0 after redaction", data["count"])
	}
}

func TestRedactWithoutIdentifierRejected(t *testing.T) {
	router, _ := newTestServer(t)

	rec := postWebhook(t, router, "/webhooks/redact", models.RedactNotification{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func pixelRequest(t *testing.T, router http.Handler, event models.PixelEvent) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(event)
	req := httptest.NewRequest(http.MethodPost, "/pixel/events", bytes.NewReader(body))
	req.Header.Set("X-Shop-Domain", testShop)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPixelEventAppliedAndDeduplicated(t *testing.T) {
	router, _ := newTestServer(t)

	event := models.PixelEvent{
		EventID:   "evt-1",
		Name:      models.PixelPageView,
		VisitorID: "vis-1",
		UTMSource: "newsletter",
	}

	first := pixelRequest(t, router, event)
	if first.Code != http.StatusOK {
		t.Fatalf("first pixel status = %d, body = %s", first.Code, first.Body.String())
	}

	second := pixelRequest(t, router, event)
	if second.Code != http.StatusOK {
		t.Fatalf("second pixel status = %d", second.Code)
	}
	resp := decodeResponse(t, second)
	data := resp.Data.(map[string]interface{})
	if result, _ := data["result"].(string); result != "duplicate" {
		t.Errorf("result = %q, want duplicate", result)
	}
}

// Visitor-keyed cart mutations from the pixel reach the reconciler and move
// the funnel, same as a webhook snapshot would.
func TestPixelCartAddCreatesBrowsingSession(t *testing.T) {
	router, h := newTestServer(t)

	rec := pixelRequest(t, router, models.PixelEvent{
		EventID:   "evt-add-1",
		Name:      models.PixelCartAdd,
		VisitorID: "vis-9",
		VariantID: "v1",
		Quantity:  2,
		Price:     15,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("pixel status = %d, body = %s", rec.Code, rec.Body.String())
	}

	tenant, err := h.db.GetTenantByDomain(context.Background(), testShop)
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	session, err := h.db.GetSessionByToken(context.Background(), tenant.ID, "visitor:vis-9")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.FunnelState != models.StateBrowsing {
		t.Errorf("FunnelState = %s, want browsing", session.FunnelState)
	}
	if session.CartTotal != 30 || session.ItemCount != 2 {
		t.Errorf("aggregates = (%v, %d), want (30, 2)", session.CartTotal, session.ItemCount)
	}
}

func TestPixelRejectsUnknownEventName(t *testing.T) {
	router, _ := newTestServer(t)

	rec := pixelRequest(t, router, models.PixelEvent{
		EventID:   "evt-2",
		Name:      "cart_emptied",
		VisitorID: "vis-2",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLiveFeedUnknownStoreReturns404(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/live/nobody.example.com", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestLiveFeedRejectsAtConnectionCap(t *testing.T) {
	router, handler := newTestServer(t)

	postWebhook(t, router, "/webhooks/cart", cartPayload("tok-live", item("p1", "v1", 1, 10)))

	tenant, err := handler.db.GetTenantByDomain(context.Background(), testShop)
	if err != nil {
		t.Fatalf("tenant lookup: %v", err)
	}

	// Fill the cap (2) directly on the hub, then the HTTP request must be
	// turned away.
	if handler.hub.Subscribe(tenant.ID, testShop) == nil {
		t.Fatal("first subscribe should succeed")
	}
	if handler.hub.Subscribe(tenant.ID, testShop) == nil {
		t.Fatal("second subscribe should succeed")
	}

	req := httptest.NewRequest(http.MethodGet, "/live/"+testShop, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 at cap", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error == nil || resp.Error.Code != ErrCodeConnectionLimit {
		t.Errorf("error = %+v, want CONNECTION_LIMIT", resp.Error)
	}
}

func TestGetSessionInvalidID(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	for _, path := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
