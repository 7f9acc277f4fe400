// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/logging"
)

// DeleteSessionsByCustomer removes every session belonging to a customer
// within one tenant, identified by platform customer ID or email, along with
// the sessions' event history. Serves data redaction requests; deleting zero
// sessions is a success.
func (db *DB) DeleteSessionsByCustomer(ctx context.Context, tenantID uuid.UUID, customerID, email string) (int64, error) {
	if customerID == "" && email == "" {
		return 0, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin redaction: %w", err)
	}
	defer rollbackQuietly(tx)

	// Empty identifiers must not match anything, hence the NULLIF guards.
	const match = `tenant_id = ?
		AND (customer_id = NULLIF(?, '') OR email = NULLIF(?, ''))`

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_events WHERE session_id IN (SELECT id FROM cart_sessions WHERE `+match+`)`,
		tenantID, customerID, email,
	); err != nil {
		return 0, fmt.Errorf("failed to delete customer events: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM cart_sessions WHERE `+match,
		tenantID, customerID, email,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete customer sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count redacted sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit redaction: %w", err)
	}

	logging.Info().
		Str("tenant_id", tenantID.String()).
		Int64("sessions_deleted", deleted).
		Msg("Customer data redacted")
	return deleted, nil
}
