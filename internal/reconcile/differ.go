// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package reconcile turns snapshot-style platform notifications into an
// append-only event log and keeps each cart session's funnel state, identity
// and aggregates consistent under at-least-once, out-of-order delivery.
//
// The snapshot differencer here is pure reconciliation logic: believed state
// in, delta events out, no I/O. All cross-request invariants (one session per
// token, one checkout_started per session) are enforced by event store
// constraints, never by check-then-act in this package.
package reconcile

import (
	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/models"
)

// ItemBelief is the reconstructed state of one cart line: the quantity the
// shopper is believed to hold plus the last-known display identity, carried
// forward onto remove events since removal notifications have no line data.
type ItemBelief struct {
	Quantity     int
	ProductID    string
	VariantID    string
	Title        string
	VariantTitle string
	Price        float64
	ImageURL     string
}

// eventKey returns the variant-or-product grouping key for an event, empty
// when the event carries no item identity.
func eventKey(e *models.CartEvent) string {
	if e.VariantID != nil && *e.VariantID != "" {
		return "v:" + *e.VariantID
	}
	if e.ProductID != nil && *e.ProductID != "" {
		return "p:" + *e.ProductID
	}
	return ""
}

// BelievedQuantities replays a session's cart_add/cart_remove history into
// per-key believed quantities. Later events refresh the display identity, so
// the belief always carries the most recently seen title and price.
func BelievedQuantities(events []models.CartEvent) map[string]*ItemBelief {
	believed := make(map[string]*ItemBelief)

	for i := range events {
		e := &events[i]
		key := eventKey(e)
		if key == "" {
			continue
		}
		delta := e.QuantityDelta()
		if delta == 0 {
			continue
		}

		belief, ok := believed[key]
		if !ok {
			belief = &ItemBelief{}
			believed[key] = belief
		}
		belief.Quantity += delta

		if e.ProductID != nil {
			belief.ProductID = *e.ProductID
		}
		if e.VariantID != nil {
			belief.VariantID = *e.VariantID
		}
		if e.Title != nil && *e.Title != "" {
			belief.Title = *e.Title
		}
		if e.VariantTitle != nil && *e.VariantTitle != "" {
			belief.VariantTitle = *e.VariantTitle
		}
		if e.Price != 0 {
			belief.Price = e.Price
		}
		if e.ImageURL != nil && *e.ImageURL != "" {
			belief.ImageURL = *e.ImageURL
		}
	}

	return believed
}

// DiffSnapshot diffs a full cart snapshot against believed quantities and
// returns the delta events that reconcile them. Each event carries only the
// delta quantity, never the absolute quantity:
//
//   - snapshot quantity above belief: cart_add with delta = new - believed
//   - key absent or below a positive belief: cart_remove with
//     delta = believed - new, clamped at the believed quantity, identity
//     carried forward from the belief
//   - untouched keys emit nothing
//
// A brand-new session has an empty belief map, so every snapshot line
// becomes an add.
func DiffSnapshot(sessionID uuid.UUID, believed map[string]*ItemBelief, items []models.LineItem) []*models.CartEvent {
	var events []*models.CartEvent

	snapshot := make(map[string]*models.LineItem, len(items))
	for i := range items {
		li := &items[i]
		key := li.Key()
		if key == "" {
			continue
		}
		snapshot[key] = li
	}

	for key, li := range snapshot {
		believedQty := 0
		if belief, ok := believed[key]; ok {
			believedQty = belief.Quantity
		}

		switch {
		case li.Quantity > believedQty:
			events = append(events, addEvent(sessionID, li, li.Quantity-believedQty))
		case li.Quantity < believedQty:
			events = append(events, removeEvent(sessionID, believed[key], believedQty-li.Quantity))
		}
	}

	// Keys the shopper held that vanished from the snapshot entirely.
	for key, belief := range believed {
		if _, present := snapshot[key]; present {
			continue
		}
		if belief.Quantity > 0 {
			events = append(events, removeEvent(sessionID, belief, belief.Quantity))
		}
	}

	return events
}

func addEvent(sessionID uuid.UUID, li *models.LineItem, delta int) *models.CartEvent {
	e := &models.CartEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Kind:      models.EventCartAdd,
		Quantity:  delta,
		Price:     li.Price,
	}
	setIfNotEmpty(&e.ProductID, li.ProductID)
	setIfNotEmpty(&e.VariantID, li.VariantID)
	setIfNotEmpty(&e.Title, li.Title)
	setIfNotEmpty(&e.VariantTitle, li.VariantTitle)
	setIfNotEmpty(&e.ImageURL, li.ImageURL)
	return e
}

func removeEvent(sessionID uuid.UUID, belief *ItemBelief, delta int) *models.CartEvent {
	e := &models.CartEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Kind:      models.EventCartRemove,
		Quantity:  delta,
		Price:     belief.Price,
	}
	setIfNotEmpty(&e.ProductID, belief.ProductID)
	setIfNotEmpty(&e.VariantID, belief.VariantID)
	setIfNotEmpty(&e.Title, belief.Title)
	setIfNotEmpty(&e.VariantTitle, belief.VariantTitle)
	setIfNotEmpty(&e.ImageURL, belief.ImageURL)
	return e
}

func setIfNotEmpty(dst **string, value string) {
	if value != "" {
		v := value
		*dst = &v
	}
}
