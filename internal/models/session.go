// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package models defines data structures used throughout the Cartscope application.
// These models represent tenants, cart sessions, cart events, inbound notifications
// and API responses.
package models

import (
	"time"

	"github.com/google/uuid"
)

// FunnelState is the shopper's furthest-reached stage in the
// browse -> cart -> checkout -> order progression.
//
// Transitions are monotonic forward with one explicit backward edge:
//
//	Viewing -> Browsing   (first cart_add)
//	*       -> Checkout   (checkout_started; idempotent)
//	Checkout -> Returned  (page_view while in checkout, no order yet)
//	Returned -> Checkout  (checkout_started again)
//	*       -> Converted  (checkout_completed; terminal, always wins)
type FunnelState string

// Funnel states.
const (
	StateViewing   FunnelState = "viewing"
	StateBrowsing  FunnelState = "browsing"
	StateCheckout  FunnelState = "checkout"
	StateReturned  FunnelState = "returned"
	StateConverted FunnelState = "converted"
)

// Valid reports whether s is a recognized funnel state.
func (s FunnelState) Valid() bool {
	switch s {
	case StateViewing, StateBrowsing, StateCheckout, StateReturned, StateConverted:
		return true
	}
	return false
}

// TransitionOn returns the funnel state after applying an event of the given
// kind, and whether the state changed. Converted is terminal: no event moves
// a session away from it.
func (s FunnelState) TransitionOn(kind EventKind) (FunnelState, bool) {
	if s == StateConverted {
		return s, false
	}

	switch kind {
	case EventCartAdd:
		if s == StateViewing {
			return StateBrowsing, true
		}
		return s, false
	case EventCheckoutStarted:
		if s == StateCheckout {
			return s, false
		}
		return StateCheckout, true
	case EventCheckoutAbandoned:
		// Only meaningful while the shopper is mid-checkout.
		if s == StateCheckout {
			return StateReturned, true
		}
		return s, false
	case EventCheckoutCompleted:
		return StateConverted, true
	default:
		return s, false
	}
}

// CartSession is the central entity: one shopping session for one visitor in
// one store. Identity is the unique (TenantID, CartToken) pair.
//
// CartTotal and ItemCount are a materialized view over the session's
// cart_add/cart_remove events. They are always recomputed from the full event
// log after an event is applied, never incremented, so out-of-order
// notification delivery self-heals instead of compounding.
type CartSession struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	CartToken string    `json:"cart_token"`

	// VisitorID links pixel-reported events to the session.
	VisitorID *string `json:"visitor_id,omitempty"`

	// Resolved customer identity. Filled additively: a known value is never
	// overwritten with an empty one.
	CustomerID   *string `json:"customer_id,omitempty"`
	Email        *string `json:"email,omitempty"`
	CustomerName *string `json:"customer_name,omitempty"`

	// Attribution, captured from the first pixel event that carries it.
	Referrer    *string `json:"referrer,omitempty"`
	LandingPage *string `json:"landing_page,omitempty"`
	UTMSource   *string `json:"utm_source,omitempty"`
	UTMMedium   *string `json:"utm_medium,omitempty"`
	UTMCampaign *string `json:"utm_campaign,omitempty"`

	// Device and geo, resolved upstream of the core.
	DeviceType *string `json:"device_type,omitempty"`
	UserAgent  *string `json:"user_agent,omitempty"`
	City       *string `json:"city,omitempty"`
	Country    *string `json:"country,omitempty"`

	FunnelState FunnelState `json:"funnel_state"`

	// Materialized aggregates (see type doc).
	CartTotal float64 `json:"cart_total"`
	ItemCount int     `json:"item_count"`

	// Discount metadata from checkout notifications.
	DiscountCodes  *string  `json:"discount_codes,omitempty"`
	DiscountAmount *float64 `json:"discount_amount,omitempty"`

	// Order fields, set on conversion.
	OrderID     *string  `json:"order_id,omitempty"`
	OrderNumber *string  `json:"order_number,omitempty"`
	OrderTotal  *float64 `json:"order_total,omitempty"`

	// Bot suspicion verdict passed through from the upstream classifier.
	SuspectedBot bool    `json:"suspected_bot,omitempty"`
	BotReason    *string `json:"bot_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Events holds the session's event history when the session is loaded
	// for broadcast or the detail endpoint. Not populated by list queries.
	Events []CartEvent `json:"events,omitempty"`
}

// SessionUpdate is the broadcast document pushed to dashboard viewers on
// every state change: the full session plus its event history.
type SessionUpdate struct {
	Session *CartSession `json:"session"`

	// HighValue is set when CartTotal meets the tenant's configured
	// high-value threshold. Dashboard display hint only.
	HighValue bool `json:"high_value,omitempty"`
}
