// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/models"
)

// sessionColumns is the column list shared by all session SELECTs, in the
// order scanSession expects.
const sessionColumns = `id, tenant_id, cart_token, visitor_id,
	customer_id, email, customer_name,
	referrer, landing_page, utm_source, utm_medium, utm_campaign,
	device_type, user_agent, city, country,
	funnel_state, cart_total, item_count,
	discount_codes, discount_amount,
	order_id, order_number, order_total,
	suspected_bot, bot_reason,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.CartSession, error) {
	s := &models.CartSession{}
	err := row.Scan(
		&s.ID, &s.TenantID, &s.CartToken, &s.VisitorID,
		&s.CustomerID, &s.Email, &s.CustomerName,
		&s.Referrer, &s.LandingPage, &s.UTMSource, &s.UTMMedium, &s.UTMCampaign,
		&s.DeviceType, &s.UserAgent, &s.City, &s.Country,
		&s.FunnelState, &s.CartTotal, &s.ItemCount,
		&s.DiscountCodes, &s.DiscountAmount,
		&s.OrderID, &s.OrderNumber, &s.OrderTotal,
		&s.SuspectedBot, &s.BotReason,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpsertSessionByToken returns the session for (tenant, cart token),
// creating an empty one in the viewing state if none exists. The unique
// index on (tenant_id, cart_token) makes concurrent creation attempts for
// the same token converge on a single row.
func (db *DB) UpsertSessionByToken(ctx context.Context, tenantID uuid.UUID, cartToken string) (*models.CartSession, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	query := `INSERT INTO cart_sessions (id, tenant_id, cart_token, funnel_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, cart_token) DO NOTHING`

	_, err := db.conn.ExecContext(ctx, query,
		uuid.New(), tenantID, cartToken, models.StateViewing, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert session for token: %w", err)
	}

	return db.GetSessionByToken(ctx, tenantID, cartToken)
}

// GetSessionByToken retrieves a session by its cart token within a tenant.
func (db *DB) GetSessionByToken(ctx context.Context, tenantID uuid.UUID, cartToken string) (*models.CartSession, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM cart_sessions WHERE tenant_id = ? AND cart_token = ?`

	s, err := scanSession(db.conn.QueryRowContext(ctx, query, tenantID, cartToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session for token: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}
	return s, nil
}

// GetSessionByID retrieves a session by ID.
func (db *DB) GetSessionByID(ctx context.Context, id uuid.UUID) (*models.CartSession, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM cart_sessions WHERE id = ?`

	s, err := scanSession(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return s, nil
}

// UpdateSession writes all mutable session columns and bumps updated_at.
// The caller (the reconciler) owns merge semantics; this persists whatever
// state it computed, except that a converted funnel state is terminal at the
// row level: a handler racing a concurrent conversion cannot write a stale
// earlier state over it, since notifications are delivered at-least-once and
// in no particular order.
func (db *DB) UpdateSession(ctx context.Context, s *models.CartSession) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	s.UpdatedAt = time.Now().UTC()

	query := `UPDATE cart_sessions SET
		visitor_id = ?, customer_id = ?, email = ?, customer_name = ?,
		referrer = ?, landing_page = ?, utm_source = ?, utm_medium = ?, utm_campaign = ?,
		device_type = ?, user_agent = ?, city = ?, country = ?,
		funnel_state = CASE WHEN funnel_state = ? THEN funnel_state ELSE ? END,
		discount_codes = ?, discount_amount = ?,
		order_id = ?, order_number = ?, order_total = ?,
		suspected_bot = ?, bot_reason = ?,
		updated_at = ?
		WHERE id = ?`

	result, err := db.conn.ExecContext(ctx, query,
		s.VisitorID, s.CustomerID, s.Email, s.CustomerName,
		s.Referrer, s.LandingPage, s.UTMSource, s.UTMMedium, s.UTMCampaign,
		s.DeviceType, s.UserAgent, s.City, s.Country,
		models.StateConverted, s.FunnelState,
		s.DiscountCodes, s.DiscountAmount,
		s.OrderID, s.OrderNumber, s.OrderTotal,
		s.SuspectedBot, s.BotReason,
		s.UpdatedAt,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", s.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check session update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// RecomputeSessionAggregates rebuilds cart_total and item_count from the
// session's full event log and writes them back, flooring at zero. Only
// cart_add and cart_remove events contribute; a remove for an item the log
// never saw added can otherwise push the believed totals negative.
func (db *DB) RecomputeSessionAggregates(ctx context.Context, sessionID uuid.UUID) (total float64, count int, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT
		COALESCE(SUM(CASE WHEN kind = ? THEN quantity * price WHEN kind = ? THEN -quantity * price ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN kind = ? THEN quantity WHEN kind = ? THEN -quantity ELSE 0 END), 0)
		FROM cart_events WHERE session_id = ?`

	err = db.conn.QueryRowContext(ctx, query,
		models.EventCartAdd, models.EventCartRemove,
		models.EventCartAdd, models.EventCartRemove,
		sessionID,
	).Scan(&total, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute aggregates for session %s: %w", sessionID, err)
	}

	if total < 0 {
		total = 0
	}
	if count < 0 {
		count = 0
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE cart_sessions SET cart_total = ?, item_count = ?, updated_at = ? WHERE id = ?`,
		total, count, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to store aggregates for session %s: %w", sessionID, err)
	}

	return total, count, nil
}

// SessionFilter holds filter options for listing sessions.
type SessionFilter struct {
	FunnelState  models.FunnelState
	ExcludeBots  bool
	UpdatedSince *time.Time
	Limit        int
	Offset       int
}

// ListRecentSessions returns a tenant's sessions ordered by most recent
// activity, with optional funnel-state and bot filters.
func (db *DB) ListRecentSessions(ctx context.Context, tenantID uuid.UUID, filter SessionFilter) ([]*models.CartSession, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM cart_sessions WHERE tenant_id = ?`
	args := []interface{}{tenantID}

	if filter.FunnelState != "" {
		query += " AND funnel_state = ?"
		args = append(args, filter.FunnelState)
	}
	if filter.ExcludeBots {
		query += " AND suspected_bot = false"
	}
	if filter.UpdatedSince != nil {
		query += " AND updated_at >= ?"
		args = append(args, *filter.UpdatedSince)
	}

	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer closeQuietly(rows)

	var sessions []*models.CartSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// FunnelCounts is a per-state session count for one tenant.
type FunnelCounts struct {
	Viewing   int64 `json:"viewing"`
	Browsing  int64 `json:"browsing"`
	Checkout  int64 `json:"checkout"`
	Returned  int64 `json:"returned"`
	Converted int64 `json:"converted"`
}

// CountSessionsByState returns the tenant's funnel distribution.
func (db *DB) CountSessionsByState(ctx context.Context, tenantID uuid.UUID, excludeBots bool) (*FunnelCounts, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT funnel_state, COUNT(*) FROM cart_sessions WHERE tenant_id = ?`
	if excludeBots {
		query += " AND suspected_bot = false"
	}
	query += " GROUP BY funnel_state"

	rows, err := db.conn.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer closeQuietly(rows)

	counts := &FunnelCounts{}
	for rows.Next() {
		var state models.FunnelState
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan funnel count: %w", err)
		}
		switch state {
		case models.StateViewing:
			counts.Viewing = n
		case models.StateBrowsing:
			counts.Browsing = n
		case models.StateCheckout:
			counts.Checkout = n
		case models.StateReturned:
			counts.Returned = n
		case models.StateConverted:
			counts.Converted = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate funnel counts: %w", err)
	}
	return counts, nil
}
