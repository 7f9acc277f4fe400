// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the type of a cart event.
type EventKind string

// Cart event kinds.
const (
	EventCartAdd           EventKind = "cart_add"
	EventCartRemove        EventKind = "cart_remove"
	EventCheckoutStarted   EventKind = "checkout_started"
	EventCheckoutItem      EventKind = "checkout_item"
	EventCheckoutAbandoned EventKind = "checkout_abandoned"
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventPageView          EventKind = "page_view"
)

// ValidEventKind reports whether kind is a known event kind.
func ValidEventKind(kind EventKind) bool {
	switch kind {
	case EventCartAdd, EventCartRemove, EventCheckoutStarted, EventCheckoutItem,
		EventCheckoutAbandoned, EventCheckoutCompleted, EventPageView:
		return true
	}
	return false
}

// CartEvent is an immutable, append-only record of one thing that happened in
// a session. Events are never updated after creation; corrections happen by
// appending a compensating event.
//
// Quantity on cart_add/cart_remove is always a delta, never an absolute
// quantity. For cart_remove the product identity, title and price are carried
// forward from the last matching cart_add, since the removal notification
// itself carries none.
type CartEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Kind      EventKind `json:"kind"`

	ProductID    *string `json:"product_id,omitempty"`
	VariantID    *string `json:"variant_id,omitempty"`
	Title        *string `json:"title,omitempty"`
	VariantTitle *string `json:"variant_title,omitempty"`

	Quantity int     `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`

	ImageURL *string `json:"image_url,omitempty"`

	// DedupeKey backs the store-level uniqueness guard. For checkout_started
	// it is derived from the session ID so at most one such event can ever
	// be inserted per session; for other kinds it defaults to the event ID.
	DedupeKey string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// QuantityDelta returns the signed item-count contribution of the event:
// +Quantity for cart_add, -Quantity for cart_remove, zero otherwise.
func (e *CartEvent) QuantityDelta() int {
	switch e.Kind {
	case EventCartAdd:
		return e.Quantity
	case EventCartRemove:
		return -e.Quantity
	default:
		return 0
	}
}

// ValueDelta returns the signed cart-total contribution of the event.
func (e *CartEvent) ValueDelta() float64 {
	return float64(e.QuantityDelta()) * e.Price
}

// CheckoutStartedDedupeKey builds the synthetic uniqueness key that limits a
// session to a single checkout_started event, enforced by the unique index
// on cart_events.dedupe_key.
func CheckoutStartedDedupeKey(sessionID uuid.UUID) string {
	return "checkout_started:" + sessionID.String()
}
