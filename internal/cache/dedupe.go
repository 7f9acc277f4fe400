// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package cache

import "time"

// Dedupe tracks recently seen keys for at-least-once delivery collapsing.
// Pixel events carry client-generated event IDs; a browser retry within the
// TTL is a duplicate and must not be processed twice.
type Dedupe struct {
	lru *LRU[time.Time]
}

// NewDedupe creates a dedupe window with the given capacity and TTL.
func NewDedupe(capacity int, ttl time.Duration) *Dedupe {
	return &Dedupe{lru: NewLRU[time.Time](capacity, ttl)}
}

// Seen reports whether the key was already recorded within the TTL, and
// records it if not.
func (d *Dedupe) Seen(key string) bool {
	if _, ok := d.lru.Get(key); ok {
		return true
	}
	d.lru.Add(key, time.Now())
	return false
}

// Len returns the number of tracked keys.
func (d *Dedupe) Len() int {
	return d.lru.Len()
}
