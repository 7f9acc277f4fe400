// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package reconcile

import (
	"github.com/cartscope/cartscope/internal/models"
)

// Identity sources, matched against the configured name-precedence list.
const (
	SourceCheckout = "checkout"
	SourceOrder    = "order"
	SourcePixel    = "pixel"
)

// identityUpdate is one notification's contribution to a session's resolved
// customer identity and geo fields. Empty fields contribute nothing.
type identityUpdate struct {
	source       string
	customerID   string
	email        string
	customerName string
	city         string
	country      string
}

// mergeIdentity applies an update to the session additively: a known value
// is never replaced with an empty one. The customer name additionally
// follows the configured precedence list: the highest-ranked source may
// overwrite a name set earlier, every other source only fills a blank.
// Returns whether anything changed.
func mergeIdentity(s *models.CartSession, u identityUpdate, namePrecedence []string) bool {
	changed := false

	changed = fillString(&s.CustomerID, u.customerID) || changed
	changed = fillString(&s.Email, u.email) || changed
	changed = fillString(&s.City, u.city) || changed
	changed = fillString(&s.Country, u.country) || changed

	if u.customerName != "" {
		if isEmpty(s.CustomerName) || isTopSource(u.source, namePrecedence) {
			if isEmpty(s.CustomerName) || *s.CustomerName != u.customerName {
				v := u.customerName
				s.CustomerName = &v
				changed = true
			}
		}
	}

	return changed
}

// fillString sets the target only when it is currently empty and the value
// is not. Reports whether it wrote.
func fillString(dst **string, value string) bool {
	if value == "" || !isEmpty(*dst) {
		return false
	}
	v := value
	*dst = &v
	return true
}

func isEmpty(s *string) bool {
	return s == nil || *s == ""
}

// isTopSource reports whether the source is the highest-ranked entry of the
// precedence list.
func isTopSource(source string, precedence []string) bool {
	return len(precedence) > 0 && precedence[0] == source
}
