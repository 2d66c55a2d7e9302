package extract

import (
	"strings"
	"testing"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain object", `{"company":"A"}`, "A", false},
		{"fenced", "```json\n{\"company\":\"B\"}\n```", "B", false},
		{"fenced without language", "```\n{\"company\":\"C\"}\n```", "C", false},
		{"surrounding prose", "Sure! {\"company\":\"D\"} Let me know.", "D", false},
		{"nested braces", `Result: {"company":"E","meta":{"x":1}} done`, "E", false},
		{"empty", "   ", "", true},
		{"no object", "no json here", "", true},
		{"broken region", "text {\"company\": } text", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := decodePayload(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got %v", obj)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := fieldString(obj, "company"); got != tt.want {
				t.Errorf("Expected company %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecodePayload_NumbersKeepPrecision(t *testing.T) {
	obj, err := decodePayload(`{"total_value": 1250.50, "taxes_paid": 0.1}`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := fieldString(obj, "total_value"); got != "1250.50" {
		t.Errorf("Expected 1250.50, got %q", got)
	}
	if got := fieldString(obj, "taxes_paid"); got != "0.1" {
		t.Errorf("Expected 0.1, got %q", got)
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("  a\n\tb   c "); got != "a b c" {
		t.Errorf("Expected collapsed whitespace, got %q", got)
	}
	if got := snippet(""); got != "<empty>" {
		t.Errorf("Expected <empty>, got %q", got)
	}
	long := snippet(strings.Repeat("x", 500))
	if !strings.HasSuffix(long, "...") || len(long) != 163 {
		t.Errorf("Expected truncated snippet, got len %d", len(long))
	}
}
