package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/koios/purpleqr/pkg/models"
)

func TestFieldErrors(t *testing.T) {
	style := models.DefaultStyle()
	style.ColorDark = "purple"
	style.Width = 5
	style.ErrorCorrection = "X"

	errs := fieldErrors(style.Validate())
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %+v", len(errs), errs)
	}

	byField := make(map[string]ValidationError)
	for _, e := range errs {
		byField[e.Field] = e
	}

	tests := []struct {
		field string
		code  string
	}{
		{"width", "min"},
		{"color_dark", "hexcolor"},
		{"error_correction", "oneof"},
	}
	for _, tt := range tests {
		e, ok := byField[tt.field]
		if !ok {
			t.Errorf("missing error for %s in %+v", tt.field, errs)
			continue
		}
		if e.Code != tt.code {
			t.Errorf("%s: code = %q, want %q", tt.field, e.Code, tt.code)
		}
		if e.Message == "" {
			t.Errorf("%s: empty message", tt.field)
		}
	}

	if got := byField["error_correction"].Message; got != "Field 'error_correction' must be one of: L, M, Q, H" {
		t.Errorf("oneof message = %q", got)
	}
}

func TestFieldErrorsNested(t *testing.T) {
	doc := models.NewDocument()
	doc.Content.Wifi.Encryption = "WPA3"

	errs := fieldErrors(fmt.Errorf("wrapped: %w", doc.Validate()))
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %+v", len(errs), errs)
	}
	if errs[0].Field != "content.wifi.encryption" {
		t.Errorf("Field = %q, want content.wifi.encryption", errs[0].Field)
	}
}

func TestFieldErrorsPlain(t *testing.T) {
	errs := fieldErrors(errors.New("unsupported logo"))
	if len(errs) != 1 || errs[0].Field != "" || errs[0].Message != "unsupported logo" || errs[0].Code != "invalid" {
		t.Errorf("unexpected %+v", errs)
	}
}

func TestFieldPath(t *testing.T) {
	tests := map[string]string{
		"Style.color_dark":               "color_dark",
		"CodeDocument.content.wifi.ssid": "content.wifi.ssid",
		"plain":                          "plain",
	}
	for in, want := range tests {
		if got := fieldPath(in); got != want {
			t.Errorf("fieldPath(%q) = %q, want %q", in, got, want)
		}
	}
}
