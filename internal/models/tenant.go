// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package models

import (
	"time"

	"github.com/google/uuid"
)

// Default tenant settings applied on first contact.
const (
	DefaultRetentionDays      = 30
	DefaultHighValueThreshold = 200.0
)

// Tenant is one onboarded storefront. All session and event data is isolated
// per tenant; deleting a tenant cascades to its sessions and events.
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	ShopDomain string    `json:"shop_domain"`

	// RetentionDays is the data-retention window. Sessions untouched for
	// longer than this are removed by the retention purger.
	RetentionDays int `json:"retention_days"`

	// BotFiltering controls whether suspected-bot sessions are hidden from
	// dashboard list queries.
	BotFiltering bool `json:"bot_filtering"`

	// HighValueThreshold marks broadcasts for carts at or above this total.
	HighValueThreshold float64 `json:"high_value_threshold"`

	CreatedAt time.Time `json:"created_at"`
}

// NewTenant returns a tenant with default settings for the given shop domain.
func NewTenant(shopDomain string) *Tenant {
	return &Tenant{
		ID:                 uuid.New(),
		ShopDomain:         shopDomain,
		RetentionDays:      DefaultRetentionDays,
		HighValueThreshold: DefaultHighValueThreshold,
		CreatedAt:          time.Now().UTC(),
	}
}
