// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package validation

import (
	"strings"
	"testing"

	"github.com/cartscope/cartscope/internal/models"
)

func TestValidateStructPassesValidNotification(t *testing.T) {
	n := models.CartNotification{Token: "tok-1"}
	if err := ValidateStruct(&n); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestValidateStructReportsMissingRequiredField(t *testing.T) {
	err := ValidateStruct(&models.OrderNotification{CartToken: "tok-1"})
	if err == nil {
		t.Fatal("expected error for missing order ID")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("message = %q, want a required-field message", err.Error())
	}

	fields := err.Fields()
	if len(fields) != 1 || fields[0].Tag != "required" {
		t.Errorf("fields = %+v, want one required failure", fields)
	}
}

func TestValidateStructCollectsMultipleFailures(t *testing.T) {
	type payload struct {
		Name  string `validate:"required"`
		Email string `validate:"required,email"`
		Kind  string `validate:"oneof=add remove"`
	}

	err := ValidateStruct(&payload{Email: "not-an-email", Kind: "other"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := len(err.Fields()); got != 3 {
		t.Fatalf("got %d field errors, want 3: %v", got, err)
	}

	details := err.Details()
	fields, ok := details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 3 {
		t.Errorf("details fields = %+v, want 3 entries", details["fields"])
	}
}

func TestTranslateUsesParamTemplates(t *testing.T) {
	type payload struct {
		Limit int `validate:"max=500"`
	}

	err := ValidateStruct(&payload{Limit: 1000})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "at most 500") {
		t.Errorf("message = %q, want max template with param", err.Error())
	}
}
