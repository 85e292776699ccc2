package app

import (
	"errors"
	"testing"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		wantRule string
	}{
		{name: "plus international", input: "+218912345678", want: "218912345678"},
		{name: "double zero international", input: "00218912345678", want: "218912345678"},
		{name: "bare country code", input: "218912345678", want: "218912345678"},
		{name: "local with trunk zero", input: "0912345678", want: "218912345678"},
		{name: "subscriber only", input: "912345678", want: "218912345678"},
		{name: "spaces and dashes", input: " +218 91-234 5678 ", want: "218912345678"},
		{name: "empty", input: "   ", wantRule: "required"},
		{name: "letters", input: "+21891234abcd", wantRule: "digits_only"},
		{name: "plus only", input: "+", wantRule: "digits_only"},
		{name: "foreign country code", input: "+201001234567", wantRule: "country_code"},
		{name: "landline", input: "0213334444", wantRule: "mobile_prefix"},
		{name: "too short", input: "+21891234567", wantRule: "length"},
		{name: "too long", input: "09123456789", wantRule: "length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizePhone(tt.input)
			if tt.wantRule != "" {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected validation error, got %v (value %q)", err, got)
				}
				if vErr.Field != "phone" || vErr.Rule != tt.wantRule {
					t.Fatalf("expected phone/%s, got %s/%s", tt.wantRule, vErr.Field, vErr.Rule)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
