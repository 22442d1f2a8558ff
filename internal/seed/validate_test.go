package seed

import (
	"errors"
	"math"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseValidator(t *testing.T) {
	tests := []struct {
		ref   string
		value string
		ok    bool
	}{
		{"", "anything", true},
		{"text", "anything", true},
		{"text", "\xff", false},
		{"int", "250", true},
		{"int", " -3 ", true},
		{"int", "2.5", false},
		{"float", "72.4", true},
		{"float", "1e3", true},
		{"float", "NaN", false},
		{"float", "heavy", false},
		{"json", `{"a":1}`, true},
		{"json", `{"a":`, false},
		{"json:zones", `{"zones":[1,2]}`, true},
		{"json:zones,max", `{"zones":[1,2]}`, false},
		{"json:limits.max", `{"limits":{"max":3}}`, true},
	}
	for _, tt := range tests {
		check, err := ParseValidator(tt.ref)
		if err != nil {
			t.Fatalf("ParseValidator(%q): %v", tt.ref, err)
		}
		err = check(tt.value)
		if tt.ok && err != nil {
			t.Errorf("%s rejected %q: %v", tt.ref, tt.value, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidValue) {
			t.Errorf("%s accepted %q", tt.ref, tt.value)
		}
	}

	for _, bad := range []string{"bool", "int:5", "text:x"} {
		if _, err := ParseValidator(bad); err == nil {
			t.Errorf("ParseValidator(%q) should fail", bad)
		}
	}
}

func TestValidName(t *testing.T) {
	for name, want := range map[string]bool{
		"weight":         true,
		"power.ftp.bike": true,
		"kit.cotic-1":    true,
		"":               false,
		"a..b":           false,
		".a":             false,
		"has space":      false,
	} {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v", name, got)
		}
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{true, "true"},
		{42, "42"},
		{int64(-7), "-7"},
		{0.1, "0.1"},
		{[]any{1, "a"}, `[1,"a"]`},
		{map[string]any{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{map[any]any{1: "x"}, `{"1":"x"}`},
	}
	for _, tt := range tests {
		got, err := EncodeValue(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("EncodeValue(%v) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	for _, bad := range []any{nil, math.NaN(), math.Inf(1), struct{}{}} {
		if _, err := EncodeValue(bad); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("EncodeValue(%v) = %v", bad, err)
		}
	}
}

func TestEncodeValue_YAML(t *testing.T) {
	var v any
	src := "zones: [0.68, 0.83]\nsport: bike\n"
	if err := yaml.Unmarshal([]byte(src), &v); err != nil {
		t.Fatal(err)
	}
	got, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if got != `{"sport":"bike","zones":[0.68,0.83]}` {
		t.Errorf("got %s", got)
	}
}
