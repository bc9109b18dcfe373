package dtype

import (
	"errors"
	"testing"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in   string
		want DataType
	}{
		{"float16", Half},
		{"FP16", Half},
		{"bfloat16", BF16},
		{"float32", Float},
		{"fp8", FP8},
		{" int8 ", Int8},
		{"int64", Int64},
	}
	for _, tt := range tests {
		got, err := ParseDataType(tt.in)
		if err != nil {
			t.Fatalf("ParseDataType(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDataType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseDataType("q4_k"); !errors.Is(err, ErrUnknownDataType) {
		t.Fatalf("expected ErrUnknownDataType, got %v", err)
	}
}

func TestSize(t *testing.T) {
	if Half.Size() != 2 || BF16.Size() != 2 {
		t.Fatalf("half types must be 2 bytes")
	}
	if FP8.Size() != 1 || Int8.Size() != 1 {
		t.Fatalf("8-bit types must be 1 byte")
	}
	if Float.Size() != 4 || Int64.Size() != 8 {
		t.Fatalf("unexpected wide type sizes")
	}
	if DataType(99).Size() != 0 {
		t.Fatalf("unknown type should have size 0")
	}
}

func TestTextRoundTrip(t *testing.T) {
	b, err := BF16.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got DataType
	if err := got.UnmarshalText(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != BF16 {
		t.Fatalf("got %v, want bf16", got)
	}
	if _, err := DataType(42).MarshalText(); err == nil {
		t.Fatalf("expected error for invalid type")
	}
	if DataType(42).String() != "DataType(42)" {
		t.Fatalf("unexpected string for invalid type: %s", DataType(42).String())
	}
}
