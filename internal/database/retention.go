// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package database

import (
	"context"
	"fmt"

	"github.com/cartscope/cartscope/internal/logging"
)

// PurgeExpiredSessions deletes sessions (and their events) whose last
// activity is older than the owning tenant's retention window. Returns the
// number of sessions removed. Events go first since DuckDB has no cascade.
func (db *DB) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin retention purge: %w", err)
	}
	defer rollbackQuietly(tx)

	const expiredSessions = `SELECT s.id FROM cart_sessions s
		JOIN tenants t ON t.id = s.tenant_id
		WHERE s.updated_at < CURRENT_TIMESTAMP - to_days(t.retention_days)`

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_events WHERE session_id IN (`+expiredSessions+`)`,
	); err != nil {
		return 0, fmt.Errorf("failed to purge expired events: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM cart_sessions WHERE id IN (`+expiredSessions+`)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention purge: %w", err)
	}

	if purged > 0 {
		logging.Info().Int64("sessions", purged).Msg("Purged expired sessions")
	}
	return purged, nil
}
