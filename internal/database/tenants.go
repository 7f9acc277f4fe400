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

	"github.com/google/uuid"

	"github.com/cartscope/cartscope/internal/logging"
	"github.com/cartscope/cartscope/internal/models"
)

// UpsertTenantByDomain returns the tenant for a shop domain, creating it
// with default settings on first contact. The UNIQUE constraint on
// shop_domain makes concurrent first-contact upserts converge on one row.
func (db *DB) UpsertTenantByDomain(ctx context.Context, shopDomain string) (*models.Tenant, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	candidate := models.NewTenant(shopDomain)

	query := `INSERT INTO tenants (id, shop_domain, retention_days, bot_filtering, high_value_threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop_domain) DO NOTHING`

	_, err := db.conn.ExecContext(ctx, query,
		candidate.ID, candidate.ShopDomain, candidate.RetentionDays,
		candidate.BotFiltering, candidate.HighValueThreshold, candidate.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tenant %s: %w", shopDomain, err)
	}

	return db.GetTenantByDomain(ctx, shopDomain)
}

// GetTenantByDomain retrieves a tenant by shop domain.
func (db *DB) GetTenantByDomain(ctx context.Context, shopDomain string) (*models.Tenant, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, shop_domain, retention_days, bot_filtering, high_value_threshold, created_at
		FROM tenants WHERE shop_domain = ?`

	tenant := &models.Tenant{}
	err := db.conn.QueryRowContext(ctx, query, shopDomain).Scan(
		&tenant.ID, &tenant.ShopDomain, &tenant.RetentionDays,
		&tenant.BotFiltering, &tenant.HighValueThreshold, &tenant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", shopDomain, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant %s: %w", shopDomain, err)
	}
	return tenant, nil
}

// GetTenantByID retrieves a tenant by ID.
func (db *DB) GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, shop_domain, retention_days, bot_filtering, high_value_threshold, created_at
		FROM tenants WHERE id = ?`

	tenant := &models.Tenant{}
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID, &tenant.ShopDomain, &tenant.RetentionDays,
		&tenant.BotFiltering, &tenant.HighValueThreshold, &tenant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant %s: %w", id, err)
	}
	return tenant, nil
}

// UpdateTenantSettings updates the mutable tenant settings.
func (db *DB) UpdateTenantSettings(ctx context.Context, tenant *models.Tenant) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `UPDATE tenants
		SET retention_days = ?, bot_filtering = ?, high_value_threshold = ?
		WHERE id = ?`

	result, err := db.conn.ExecContext(ctx, query,
		tenant.RetentionDays, tenant.BotFiltering, tenant.HighValueThreshold, tenant.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant %s: %w", tenant.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check tenant update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", tenant.ID, ErrNotFound)
	}
	return nil
}

// DeleteTenant removes a tenant and all of its sessions and events. Used by
// the app/uninstalled and data redaction webhooks. DuckDB has no foreign key
// cascade, so child rows are deleted explicitly, leaf tables first.
func (db *DB) DeleteTenant(ctx context.Context, tenantID uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tenant delete: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_events WHERE session_id IN (SELECT id FROM cart_sessions WHERE tenant_id = ?)`,
		tenantID,
	); err != nil {
		return fmt.Errorf("failed to delete tenant events: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_sessions WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tenant delete: %w", err)
	}

	logging.Info().Str("tenant_id", tenantID.String()).Msg("Tenant data deleted")
	return nil
}

func rollbackQuietly(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logging.Debug().Err(err).Msg("Rollback failed")
	}
}
