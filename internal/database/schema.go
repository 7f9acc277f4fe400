// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// createTables creates the core tables. All columns are declared in the
// initial CREATE TABLE statements; DuckDB's ALTER TABLE support is limited,
// so schema changes ship as new columns here with IF NOT EXISTS guards.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			shop_domain VARCHAR NOT NULL UNIQUE,
			retention_days INTEGER NOT NULL DEFAULT 30,
			bot_filtering BOOLEAN NOT NULL DEFAULT true,
			high_value_threshold DOUBLE NOT NULL DEFAULT 200.0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// One shopping session per (tenant, cart token). cart_total and
		// item_count are a materialized view over cart_events, refreshed by
		// RecomputeSessionAggregates after every applied event.
		`CREATE TABLE IF NOT EXISTS cart_sessions (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			cart_token VARCHAR NOT NULL,
			visitor_id VARCHAR,
			customer_id VARCHAR,
			email VARCHAR,
			customer_name VARCHAR,
			referrer VARCHAR,
			landing_page VARCHAR,
			utm_source VARCHAR,
			utm_medium VARCHAR,
			utm_campaign VARCHAR,
			device_type VARCHAR,
			user_agent VARCHAR,
			city VARCHAR,
			country VARCHAR,
			funnel_state VARCHAR NOT NULL DEFAULT 'viewing',
			cart_total DOUBLE NOT NULL DEFAULT 0,
			item_count INTEGER NOT NULL DEFAULT 0,
			discount_codes VARCHAR,
			discount_amount DOUBLE,
			order_id VARCHAR,
			order_number VARCHAR,
			order_total DOUBLE,
			suspected_bot BOOLEAN NOT NULL DEFAULT false,
			bot_reason VARCHAR,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Append-only event log. dedupe_key carries the idempotency
		// identity of each row: the event ID for most kinds, a synthetic
		// "checkout_started:<session>" key for the one-per-session kinds.
		// The unique index turns replays into conflict no-ops.
		`CREATE TABLE IF NOT EXISTS cart_events (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			kind VARCHAR NOT NULL,
			product_id VARCHAR,
			variant_id VARCHAR,
			title VARCHAR,
			variant_title VARCHAR,
			quantity INTEGER NOT NULL DEFAULT 0,
			price DOUBLE NOT NULL DEFAULT 0,
			image_url VARCHAR,
			dedupe_key VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// createIndexes creates indexes for lookup paths and idempotency constraints.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		// Session identity: one session per cart token per store.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_tenant_token
			ON cart_sessions (tenant_id, cart_token)`,

		// Event idempotency, including the one-checkout_started-per-session rule.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedupe_key
			ON cart_events (dedupe_key)`,

		`CREATE INDEX IF NOT EXISTS idx_events_session
			ON cart_events (session_id)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at
			ON cart_sessions (tenant_id, updated_at)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
