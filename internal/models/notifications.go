// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package models

import (
	"strings"
	"time"
)

// LineItem is one line of a cart or checkout snapshot: the full current
// state of that line, not a delta.
type LineItem struct {
	ProductID    string  `json:"product_id"`
	VariantID    string  `json:"variant_id"`
	Title        string  `json:"title"`
	VariantTitle string  `json:"variant_title,omitempty"`
	Quantity     int     `json:"quantity" validate:"min=0"`
	Price        float64 `json:"price" validate:"min=0"`
	ImageURL     string  `json:"image_url,omitempty"`
}

// Key returns the variant-or-product key used to group events and snapshot
// lines when reconstructing believed quantities. Variant ID is preferred;
// product ID is the fallback when the variant is absent.
func (li *LineItem) Key() string {
	if li.VariantID != "" {
		return "v:" + li.VariantID
	}
	if li.ProductID != "" {
		return "p:" + li.ProductID
	}
	return ""
}

// CartNotification is a cart.created/cart.updated webhook payload: a full
// snapshot of the cart's current line items, keyed by the opaque cart token
// shared with later checkout and order notifications. A snapshot without a
// token can never correlate; it is acknowledged and dropped rather than
// rejected, so the platform stops redelivering it.
type CartNotification struct {
	Token      string     `json:"token"`
	CustomerID string     `json:"customer_id,omitempty"`
	LineItems  []LineItem `json:"line_items"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

// DiscountCode is one discount applied at checkout.
type DiscountCode struct {
	Code   string  `json:"code"`
	Amount float64 `json:"amount,omitempty"`
}

// CheckoutNotification is a checkout.created/checkout.updated webhook
// payload. Delivered at-least-once, in platform-dependent order relative to
// cart and order notifications for the same session.
type CheckoutNotification struct {
	Token         string         `json:"token"`
	CustomerID    string         `json:"customer_id,omitempty"`
	Email         string         `json:"email,omitempty"`
	FirstName     string         `json:"first_name,omitempty"`
	LastName      string         `json:"last_name,omitempty"`
	City          string         `json:"city,omitempty"`
	Country       string         `json:"country,omitempty"`
	DiscountCodes []DiscountCode `json:"discount_codes,omitempty"`
	LineItems     []LineItem     `json:"line_items"`
}

// CustomerName joins the checkout's name fields, empty when neither is set.
func (n *CheckoutNotification) CustomerName() string {
	return joinName(n.FirstName, n.LastName)
}

// JoinedDiscountCodes returns the applied codes as a comma-separated string
// for storage, and the summed discount amount.
func (n *CheckoutNotification) JoinedDiscountCodes() (string, float64) {
	if len(n.DiscountCodes) == 0 {
		return "", 0
	}
	codes := make([]string, 0, len(n.DiscountCodes))
	var total float64
	for _, dc := range n.DiscountCodes {
		if dc.Code != "" {
			codes = append(codes, dc.Code)
		}
		total += dc.Amount
	}
	return strings.Join(codes, ","), total
}

// OrderNotification is an order.created webhook payload. Orders without a
// cart token (manually created or API-originated) are deliberately never
// attributed to a session.
type OrderNotification struct {
	CartToken   string  `json:"cart_token"`
	OrderID     string  `json:"id" validate:"required"`
	OrderNumber string  `json:"order_number,omitempty"`
	TotalPrice  float64 `json:"total_price,omitempty"`
	CustomerID  string  `json:"customer_id,omitempty"`
	Email       string  `json:"email,omitempty"`
	FirstName   string  `json:"first_name,omitempty"`
	LastName    string  `json:"last_name,omitempty"`
	City        string  `json:"city,omitempty"`
	Country     string  `json:"country,omitempty"`
}

// CustomerName joins the order's name fields, empty when neither is set.
func (n *OrderNotification) CustomerName() string {
	return joinName(n.FirstName, n.LastName)
}

// RedactNotification is a customers/redact compliance webhook payload
// requesting deletion of a customer's session data. At least one identifier
// must be present.
type RedactNotification struct {
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

func joinName(first, last string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	return name
}
