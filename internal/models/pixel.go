// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package models

// Pixel event names accepted from the storefront beacon.
const (
	PixelPageView          = "page_view"
	PixelCartAdd           = "cart_add"
	PixelCartRemove        = "cart_remove"
	PixelCheckoutStarted   = "checkout_started"
	PixelCheckoutCompleted = "checkout_completed"
)

// PixelEvent is a browser-side beacon from the storefront pixel, keyed by
// (tenant, visitor) rather than cart token. Beacons feed the same reconciler
// as platform webhooks: page views and cart mutations append events through
// the idempotent store path, and every beacon enriches the session with
// attribution and device context.
type PixelEvent struct {
	EventID     string `json:"event_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	CartToken   string `json:"cart_token,omitempty"`
	VisitorID   string `json:"visitor_id,omitempty"`

	// Cart mutation fields, set on cart_add/cart_remove beacons.
	ProductID string  `json:"product_id,omitempty"`
	VariantID string  `json:"variant_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	Quantity  int     `json:"quantity,omitempty" validate:"min=0"`
	Price     float64 `json:"price,omitempty" validate:"min=0"`

	Referrer    string `json:"referrer,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	City        string `json:"city,omitempty"`
	Country     string `json:"country,omitempty"`

	// Bot verdict from the edge, passed through rather than re-derived.
	SuspectedBot bool   `json:"suspected_bot,omitempty"`
	BotReason    string `json:"bot_reason,omitempty"`
}

// ValidPixelEventName reports whether name is a recognized beacon event.
func ValidPixelEventName(name string) bool {
	switch name {
	case PixelPageView, PixelCartAdd, PixelCartRemove,
		PixelCheckoutStarted, PixelCheckoutCompleted:
		return true
	}
	return false
}

// EventDedupeKey returns the store-level uniqueness key for events appended
// from this beacon, so a re-fired beacon that slips past the in-memory TTL
// dedupe still cannot double-log.
func (p *PixelEvent) EventDedupeKey() string {
	return "pixel:" + p.EventID
}
