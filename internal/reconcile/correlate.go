// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package reconcile

import (
	"context"
	"fmt"

	"github.com/cartscope/cartscope/internal/database"
	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/metrics"
	"github.com/cartscope/cartscope/internal/models"
)

// ApplyCheckout correlates a checkout notification to its session by the
// shared cart token. A checkout may arrive before any cart snapshot, so the
// session is upserted rather than looked up. Emits one idempotent
// checkout_started plus a batch-idempotent set of checkout_item events (the
// full line list is redundant across repeat notifications, so items are only
// recorded once per session).
func (r *Reconciler) ApplyCheckout(ctx context.Context, tenant *models.Tenant, n *models.CheckoutNotification) (*models.CartSession, error) {
	if n.Token == "" {
		return nil, ErrMissingToken
	}

	session, err := r.store.UpsertSessionByToken(ctx, tenant.ID, n.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	changed := mergeIdentity(session, identityUpdate{
		source:       SourceCheckout,
		customerID:   n.CustomerID,
		email:        n.Email,
		customerName: n.CustomerName(),
		city:         n.City,
		country:      n.Country,
	}, r.namePrecedence)

	if codes, amount := n.JoinedDiscountCodes(); codes != "" {
		if isEmpty(session.DiscountCodes) || *session.DiscountCodes != codes {
			session.DiscountCodes = &codes
			session.DiscountAmount = &amount
			changed = true
		}
	}

	inserted, err := r.store.AppendEvent(ctx, &models.CartEvent{
		SessionID: session.ID,
		Kind:      models.EventCheckoutStarted,
		DedupeKey: models.CheckoutStartedDedupeKey(session.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append checkout event: %w", err)
	}
	if inserted {
		metrics.EventsAppended.WithLabelValues(string(models.EventCheckoutStarted)).Inc()
	}
	changed = r.transition(session, models.EventCheckoutStarted) || changed

	if err := r.appendCheckoutItems(ctx, session, n.LineItems); err != nil {
		return nil, err
	}

	if changed {
		if err := r.store.UpdateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
		r.publish(ctx, tenant, session)
	}

	return session, nil
}

// appendCheckoutItems records the checkout's line items once per session.
func (r *Reconciler) appendCheckoutItems(ctx context.Context, session *models.CartSession, items []models.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	exists, err := r.store.HasEventOfKind(ctx, session.ID, models.EventCheckoutItem)
	if err != nil {
		return fmt.Errorf("failed to check for checkout items: %w", err)
	}
	if exists {
		return nil
	}

	for i := range items {
		li := &items[i]
		event := &models.CartEvent{
			SessionID: session.ID,
			Kind:      models.EventCheckoutItem,
			Quantity:  li.Quantity,
			Price:     li.Price,
		}
		setIfNotEmpty(&event.ProductID, li.ProductID)
		setIfNotEmpty(&event.VariantID, li.VariantID)
		setIfNotEmpty(&event.Title, li.Title)
		setIfNotEmpty(&event.VariantTitle, li.VariantTitle)
		setIfNotEmpty(&event.ImageURL, li.ImageURL)

		if _, err := r.store.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to append checkout item: %w", err)
		}
		metrics.EventsAppended.WithLabelValues(string(models.EventCheckoutItem)).Inc()
	}
	return nil
}

// ApplyOrder correlates an order notification by token only — never by
// customer identity, since multiple sessions can share a customer. Orders
// without a token, or with a token matching no session, are deliberately
// unattributed: logged, counted, and reported as success with no session
// mutated and no broadcast. Returns nil when no session was touched.
func (r *Reconciler) ApplyOrder(ctx context.Context, tenant *models.Tenant, n *models.OrderNotification) (*models.CartSession, error) {
	if n.CartToken == "" {
		metrics.OrdersUnattributed.Inc()
		logging.Info().Str("order_id", n.OrderID).Msg("Order has no cart token, not attributed")
		return nil, nil
	}

	session, err := r.store.GetSessionByToken(ctx, tenant.ID, n.CartToken)
	if err != nil {
		if database.IsNotFound(err) {
			metrics.OrdersUnattributed.Inc()
			logging.Info().Str("order_id", n.OrderID).Msg("Order token matches no session, not attributed")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up session for order: %w", err)
	}

	// Converted is terminal; an order replay is a no-op success.
	if session.FunnelState == models.StateConverted {
		return session, nil
	}

	session.OrderID = &n.OrderID
	if n.OrderNumber != "" {
		v := n.OrderNumber
		session.OrderNumber = &v
	}
	if n.TotalPrice > 0 {
		v := n.TotalPrice
		session.OrderTotal = &v
	}

	mergeIdentity(session, identityUpdate{
		source:       SourceOrder,
		customerID:   n.CustomerID,
		email:        n.Email,
		customerName: n.CustomerName(),
		city:         n.City,
		country:      n.Country,
	}, r.namePrecedence)

	inserted, err := r.store.AppendEvent(ctx, &models.CartEvent{
		SessionID: session.ID,
		Kind:      models.EventCheckoutCompleted,
		DedupeKey: "checkout_completed:" + session.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append completion event: %w", err)
	}
	if inserted {
		metrics.EventsAppended.WithLabelValues(string(models.EventCheckoutCompleted)).Inc()
	}
	r.transition(session, models.EventCheckoutCompleted)

	if err := r.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	r.publish(ctx, tenant, session)

	return session, nil
}
