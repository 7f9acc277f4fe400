// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

// Webhook request headers set by the commerce platform.
const (
	headerShopDomain = "X-Shop-Domain"
	headerWebhookSig = "X-Webhook-Hmac"
)

// Webhook metric outcomes.
const (
	outcomeApplied  = "applied"
	outcomeDropped  = "dropped"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// WebhookCart handles cart.created and cart.updated notifications.
// POST /webhooks/cart
//
// The payload is a full snapshot of the cart's line items; the reconciler
// diffs it against the session's event history and appends only the deltas.
// Replayed deliveries reconcile to zero deltas and change nothing.
func (h *Handler) WebhookCart(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "cart", func(ctx *webhookContext) error {
		var n models.CartNotification
		if err := json.Unmarshal(ctx.body, &n); err != nil {
			return errBadPayload(err)
		}
		if verr := validation.ValidateStruct(&n); verr != nil {
			return errValidation(verr)
		}
		_, err := h.reconciler.ApplyCartSnapshot(ctx.req.Context(), ctx.tenant, &n)
		return err
	})
}

// WebhookCheckout handles checkout.created and checkout.updated.
// POST /webhooks/checkout
func (h *Handler) WebhookCheckout(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "checkout", func(ctx *webhookContext) error {
		var n models.CheckoutNotification
		if err := json.Unmarshal(ctx.body, &n); err != nil {
			return errBadPayload(err)
		}
		if verr := validation.ValidateStruct(&n); verr != nil {
			return errValidation(verr)
		}
		_, err := h.reconciler.ApplyCheckout(ctx.req.Context(), ctx.tenant, &n)
		return err
	})
}

// WebhookOrder handles order.created notifications.
// POST /webhooks/order
//
// Orders without a cart token are acknowledged and dropped: they cannot be
// attributed to a session and the platform must not retry them.
func (h *Handler) WebhookOrder(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "order", func(ctx *webhookContext) error {
		var n models.OrderNotification
		if err := json.Unmarshal(ctx.body, &n); err != nil {
			return errBadPayload(err)
		}
		if verr := validation.ValidateStruct(&n); verr != nil {
			return errValidation(verr)
		}
		_, err := h.reconciler.ApplyOrder(ctx.req.Context(), ctx.tenant, &n)
		return err
	})
}

// WebhookAppUninstalled removes the tenant and all of its data.
// POST /webhooks/app/uninstalled
func (h *Handler) WebhookAppUninstalled(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "app_uninstalled", func(ctx *webhookContext) error {
		return h.db.DeleteTenant(ctx.req.Context(), ctx.tenant.ID)
	})
}

// WebhookRedact deletes a customer's sessions on a compliance request.
// POST /webhooks/redact
//
// A redaction naming an unknown customer deletes nothing and still succeeds.
func (h *Handler) WebhookRedact(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "redact", func(ctx *webhookContext) error {
		var n models.RedactNotification
		if err := json.Unmarshal(ctx.body, &n); err != nil {
			return errBadPayload(err)
		}
		if n.CustomerID == "" && n.Email == "" {
			return errBadPayload(errors.New("redact request names no customer"))
		}
		_, err := h.db.DeleteSessionsByCustomer(ctx.req.Context(), ctx.tenant.ID, n.CustomerID, n.Email)
		return err
	})
}

// webhookContext carries the verified request through a topic handler.
type webhookContext struct {
	req    *http.Request
	tenant *models.Tenant
	body   []byte
}

// payloadError marks client-side payload problems, answered with 400.
type payloadError struct {
	err        error
	validation *validation.RequestError
}

func (e *payloadError) Error() string { return e.err.Error() }

func errBadPayload(err error) error {
	return &payloadError{err: err}
}

func errValidation(verr *validation.RequestError) error {
	return &payloadError{err: verr, validation: verr}
}

// handleWebhook is the shared webhook pipeline: resolve the tenant from the
// shop domain header, verify the HMAC signature over the raw body, then run
// the topic handler. Store failures answer 503 so the platform retries; a
// notification that cannot be attributed is acknowledged with 200 so the
// platform does not retry what will never succeed.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request, topic string, apply func(*webhookContext) error) {
	started := time.Now()
	defer func() {
		metrics.WebhookProcessingDuration.WithLabelValues(topic).Observe(time.Since(started).Seconds())
	}()

	shopDomain := r.Header.Get(headerShopDomain)
	if shopDomain == "" {
		metrics.WebhooksReceived.WithLabelValues(topic, outcomeRejected).Inc()
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Missing "+headerShopDomain+" header", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(topic, outcomeRejected).Inc()
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unreadable request body", err)
		return
	}

	if !h.verifySignature(body, r.Header.Get(headerWebhookSig)) {
		metrics.WebhooksReceived.WithLabelValues(topic, outcomeRejected).Inc()
		logging.Warn().
			Str("topic", topic).
			Str("shop_domain", sanitizeLogValue(shopDomain)).
			Msg("webhook signature verification failed")
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid webhook signature", nil)
		return
	}

	tenant, err := h.db.UpsertTenantByDomain(r.Context(), shopDomain)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(topic, outcomeError).Inc()
		respondError(w, http.StatusServiceUnavailable, ErrCodeDatabaseError, "Store temporarily unavailable", err)
		return
	}

	err = apply(&webhookContext{req: r, tenant: tenant, body: body})
	switch {
	case err == nil:
		metrics.WebhooksReceived.WithLabelValues(topic, outcomeApplied).Inc()
		respondSuccess(w, http.StatusOK, map[string]string{"result": "ok"}, started)

	case errors.Is(err, reconcile.ErrMissingToken):
		// Nothing to correlate; acknowledge so the platform stops retrying.
		metrics.WebhooksReceived.WithLabelValues(topic, outcomeDropped).Inc()
		logging.Info().
			Str("topic", topic).
			Str("shop_domain", sanitizeLogValue(shopDomain)).
			Msg("webhook without cart token dropped")
		respondSuccess(w, http.StatusOK, map[string]string{"result": "dropped"}, started)

	default:
		var perr *payloadError
		if errors.As(err, &perr) {
			metrics.WebhooksReceived.WithLabelValues(topic, outcomeRejected).Inc()
			if perr.validation != nil {
				respondValidationError(w, perr.validation.Error(), perr.validation.Details())
				return
			}
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Malformed webhook payload", perr.err)
			return
		}

		metrics.WebhooksReceived.WithLabelValues(topic, outcomeError).Inc()
		respondError(w, http.StatusServiceUnavailable, ErrCodeDatabaseError, "Store temporarily unavailable", err)
	}
}

// verifySignature checks the HMAC-SHA256 signature over the raw body in
// constant time. With no secret configured and signatures not required,
// unsigned requests pass (development mode).
func (h *Handler) verifySignature(body []byte, signature string) bool {
	secret := h.cfg.Webhooks.Secret
	if secret == "" {
		return !h.cfg.Webhooks.RequireSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
