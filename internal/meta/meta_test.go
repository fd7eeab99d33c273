package meta

import (
	"errors"
	"testing"

	"github.com/Ning0612/ddb/internal/domain"
)

func TestArityOf(t *testing.T) {
	tests := []struct {
		key  string
		want Arity
	}{
		{"tests", Plural},
		{"annotations", Plural},
		{"test", Singular},
		{"s", Singular},
		{"name", Singular},
		{"status", Plural},
	}
	for _, tt := range tests {
		if got := ArityOf(tt.key); got != tt.want {
			t.Errorf("ArityOf(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestCheckArity(t *testing.T) {
	if err := CheckArity("meta add", "test", Plural); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for singular key on add, got %v", err)
	}
	if err := CheckArity("meta set", "tests", Singular); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for plural key on set, got %v", err)
	}
	if err := CheckArity("meta add", "tests", Plural); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckArity("meta set", "test", Singular); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"", "has space", "a/b", "\xff"} {
		if err := ValidateKey("meta", key); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ValidateKey(%q): expected validation error, got %v", key, err)
		}
	}
	for _, key := range []string{"name", "camera_info", "ns:key", "v1.2"} {
		if err := ValidateKey("meta", key); err != nil {
			t.Errorf("ValidateKey(%q): unexpected error %v", key, err)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"object", `{"test":true}`, `{"test":true}`},
		{"number", `123`, `123`},
		{"comments", "{\"a\": 1, // note\n}", `{"a":1}`},
		{"plain text", `abc`, `"abc"`},
		{"quoted", `"abc"`, `"abc"`},
		{"list", `[1, 2,]`, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseValue("meta add", tt.in)
			if err != nil {
				t.Fatalf("ParseValue failed: %v", err)
			}
			out, err := v.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON failed: %v", err)
			}
			if string(out) != tt.want {
				t.Errorf("got %s, want %s", out, tt.want)
			}
		})
	}

	for _, in := range []string{"", "   "} {
		if _, err := ParseValue("meta add", in); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ParseValue(%q): expected validation error, got %v", in, err)
		}
	}
}
