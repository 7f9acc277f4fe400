// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/models"
)

// AppendEvent appends an event to a session's log. Inserts are idempotent on
// the event's dedupe key: a replayed event becomes a conflict no-op and
// AppendEvent reports inserted=false so callers can skip downstream work.
func (db *DB) AppendEvent(ctx context.Context, event *models.CartEvent) (inserted bool, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.DedupeKey == "" {
		if event.Kind == models.EventCheckoutStarted {
			event.DedupeKey = models.CheckoutStartedDedupeKey(event.SessionID)
		} else {
			event.DedupeKey = event.ID.String()
		}
	}

	query := `INSERT INTO cart_events (
		id, session_id, kind, product_id, variant_id, title, variant_title,
		quantity, price, image_url, dedupe_key, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (dedupe_key) DO NOTHING`

	result, err := db.conn.ExecContext(ctx, query,
		event.ID, event.SessionID, event.Kind,
		event.ProductID, event.VariantID, event.Title, event.VariantTitle,
		event.Quantity, event.Price, event.ImageURL,
		event.DedupeKey, event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append %s event: %w", event.Kind, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check event insert: %w", err)
	}
	return rows > 0, nil
}

// ListEventsBySession returns a session's full event log in append order.
func (db *DB) ListEventsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.CartEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, session_id, kind, product_id, variant_id, title, variant_title,
		quantity, price, image_url, dedupe_key, created_at
		FROM cart_events WHERE session_id = ? ORDER BY created_at, id`

	rows, err := db.conn.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for session %s: %w", sessionID, err)
	}
	defer closeQuietly(rows)

	var events []models.CartEvent
	for rows.Next() {
		var e models.CartEvent
		err := rows.Scan(
			&e.ID, &e.SessionID, &e.Kind,
			&e.ProductID, &e.VariantID, &e.Title, &e.VariantTitle,
			&e.Quantity, &e.Price, &e.ImageURL,
			&e.DedupeKey, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// HasEventOfKind reports whether the session's log contains at least one
// event of the given kind.
func (db *DB) HasEventOfKind(ctx context.Context, sessionID uuid.UUID, kind models.EventKind) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cart_events WHERE session_id = ? AND kind = ?`,
		sessionID, kind,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check for %s event: %w", kind, err)
	}
	return n > 0, nil
}
