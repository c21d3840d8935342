package driver

import (
	"testing"
	"time"
)

func TestTypeConversionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *TypeConversionError
		expected string
	}{
		{
			name: "with field",
			err: &TypeConversionError{
				Expected: "string",
				Actual:   "int64",
				Field:    "uuid",
			},
			expected: `type conversion error for field "uuid": expected string, got int64`,
		},
		{
			name: "without field",
			err: &TypeConversionError{
				Expected: "int64",
				Actual:   "nil",
				Field:    "",
			},
			expected: "type conversion error: expected int64, got nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAsString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"valid string", "hello", "hello", true},
		{"empty string", "", "", true},
		{"bytes", []byte("raw"), "raw", true},
		{"nil", nil, "", false},
		{"int", 42, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := AsString(tt.input)
			if ok != tt.wantOK {
				t.Errorf("AsString() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("AsString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAsInt64(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  any
		want   int64
		wantOK bool
	}{
		{"int64", int64(7), 7, true},
		{"int", 7, 7, true},
		{"integral float", float64(3), 3, true},
		{"fractional float", 3.5, 0, false},
		{"decimal string", "1704067200000000000", 1704067200000000000, true},
		{"bytes", []byte("12"), 12, true},
		{"garbage string", "soon", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := AsInt64(tt.input)
			if ok != tt.wantOK {
				t.Errorf("AsInt64() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("AsInt64() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAsFloat64(t *testing.T) {
	t.Parallel()

	if f, ok := AsFloat64("0.25"); !ok || f != 0.25 {
		t.Errorf("AsFloat64(string) = %v, %v", f, ok)
	}
	if f, ok := AsFloat64(int64(2)); !ok || f != 2 {
		t.Errorf("AsFloat64(int64) = %v, %v", f, ok)
	}
	if _, ok := AsFloat64(true); ok {
		t.Error("AsFloat64(bool) should fail")
	}
}

func TestAsStringSlice(t *testing.T) {
	t.Parallel()

	if s, ok := AsStringSlice([]any{"a", "b"}); !ok || len(s) != 2 || s[1] != "b" {
		t.Errorf("AsStringSlice([]any) = %v, %v", s, ok)
	}
	if _, ok := AsStringSlice([]any{"a", 1}); ok {
		t.Error("mixed slice should fail")
	}
	if s, ok := AsStringSlice([]string{"x"}); !ok || s[0] != "x" {
		t.Errorf("AsStringSlice([]string) = %v, %v", s, ok)
	}
}

func TestAsMap(t *testing.T) {
	t.Parallel()

	if _, ok := AsMap(map[string]any{"a": 1}); !ok {
		t.Error("AsMap should accept map[string]any")
	}
	var nilMap map[string]any
	if _, ok := AsMap(nilMap); ok {
		t.Error("AsMap should reject a nil map")
	}
	if _, ok := AsMap("x"); ok {
		t.Error("AsMap should reject a string")
	}
}

func TestMustInt64(t *testing.T) {
	t.Parallel()

	if _, err := MustInt64("x", "created_at"); err == nil {
		t.Fatal("expected error")
	} else if tce, ok := err.(*TypeConversionError); !ok || tce.Field != "created_at" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestDecodeEdgeFromRow(t *testing.T) {
	t.Parallel()

	valid := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	row := rowMap(edgeColumns, []any{
		"e1", "g1", "a", "b", "WORKS_AT", "a works at b", "[1,0]",
		valid.UnixMicro(), nil, valid.UnixMicro(), "ep", `["ep"]`,
	})

	e, err := decodeEdge(row)
	if err != nil {
		t.Fatalf("decodeEdge() error = %v", err)
	}
	if e.InvalidAt != nil {
		t.Errorf("InvalidAt = %v, want nil", e.InvalidAt)
	}
	if !e.ValidAt.Equal(valid) {
		t.Errorf("ValidAt = %v, want %v", e.ValidAt, valid)
	}
	if len(e.FactEmbedding) != 2 || len(e.Episodes) != 1 {
		t.Errorf("nested fields not decoded: %+v", e)
	}

	row["valid_at"] = "yesterday"
	if _, err := decodeEdge(row); err == nil {
		t.Error("expected conversion error for a non-numeric time")
	}
}
