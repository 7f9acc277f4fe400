// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package models

import (
	"testing"
)

func TestTransitionOn(t *testing.T) {
	tests := []struct {
		name    string
		from    FunnelState
		kind    EventKind
		want    FunnelState
		changed bool
	}{
		{"first add starts browsing", StateViewing, EventCartAdd, StateBrowsing, true},
		{"add while browsing stays", StateBrowsing, EventCartAdd, StateBrowsing, false},
		{"remove never advances", StateBrowsing, EventCartRemove, StateBrowsing, false},
		{"checkout from viewing", StateViewing, EventCheckoutStarted, StateCheckout, true},
		{"checkout from browsing", StateBrowsing, EventCheckoutStarted, StateCheckout, true},
		{"checkout replay is idempotent", StateCheckout, EventCheckoutStarted, StateCheckout, false},
		{"abandon from checkout", StateCheckout, EventCheckoutAbandoned, StateReturned, true},
		{"abandon outside checkout ignored", StateBrowsing, EventCheckoutAbandoned, StateBrowsing, false},
		{"returned shopper re-enters checkout", StateReturned, EventCheckoutStarted, StateCheckout, true},
		{"convert from checkout", StateCheckout, EventCheckoutCompleted, StateConverted, true},
		{"convert skips intermediate states", StateViewing, EventCheckoutCompleted, StateConverted, true},
		{"converted is terminal for adds", StateConverted, EventCartAdd, StateConverted, false},
		{"converted is terminal for checkout", StateConverted, EventCheckoutStarted, StateConverted, false},
		{"converted is terminal for abandon", StateConverted, EventCheckoutAbandoned, StateConverted, false},
		{"page view never moves state", StateBrowsing, EventPageView, StateBrowsing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.from.TransitionOn(tt.kind)
			if got != tt.want || changed != tt.changed {
				t.Errorf("TransitionOn(%s, %s) = (%s, %v), want (%s, %v)",
					tt.from, tt.kind, got, changed, tt.want, tt.changed)
			}
		})
	}
}

func TestTransitionOnNeverRegresses(t *testing.T) {
	// No event kind may move a session backward past Returned, and nothing
	// leaves Converted.
	rank := map[FunnelState]int{
		StateViewing:  0,
		StateBrowsing: 1,
		StateReturned: 1,
		StateCheckout: 2,
		StateConverted: 3,
	}
	states := []FunnelState{StateViewing, StateBrowsing, StateCheckout, StateReturned, StateConverted}
	kinds := []EventKind{
		EventCartAdd, EventCartRemove, EventCheckoutStarted,
		EventCheckoutItem, EventCheckoutAbandoned, EventCheckoutCompleted,
		EventPageView,
	}
	for _, from := range states {
		for _, kind := range kinds {
			got, _ := from.TransitionOn(kind)
			if from == StateConverted && got != StateConverted {
				t.Errorf("TransitionOn(%s, %s) left terminal state: %s", from, kind, got)
			}
			if rank[got] < rank[from] && !(from == StateCheckout && got == StateReturned) {
				t.Errorf("TransitionOn(%s, %s) regressed to %s", from, kind, got)
			}
		}
	}
}
