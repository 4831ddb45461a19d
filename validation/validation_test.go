package validation

import (
	"errors"
	"testing"
)

type stationInput struct {
	Name  string `json:"name" validate:"required"`
	Type  string `json:"type" validate:"required,oneof=main sub mobile"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := New().Struct(stationInput{Type: "depot", Email: "nope"})

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	want := map[string]string{
		"name":  "is required",
		"type":  "must be one of: main sub mobile",
		"email": "must be a valid email",
	}
	for field, msg := range want {
		if verr.Fields[field] != msg {
			t.Errorf("%s = %q, want %q", field, verr.Fields[field], msg)
		}
	}
	if len(verr.Fields) != len(want) {
		t.Errorf("fields = %v", verr.Fields)
	}
}

func TestStructValid(t *testing.T) {
	if err := New().Struct(stationInput{Name: "North", Type: "sub"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestErrorMessageIsSorted(t *testing.T) {
	err := &Error{Fields: map[string]string{"b": "is required", "a": "is invalid"}}
	if got := err.Error(); got != "validation failed: a: is invalid; b: is required" {
		t.Errorf("Error() = %q", got)
	}
}
