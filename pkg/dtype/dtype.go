// Package dtype enumerates the element types an engine stores activations,
// weights and caches in.
package dtype

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownDataType = errors.New("unknown data type")

// DataType is an engine element type. The numbering matches the engine
// runtime so values can be carried through serialized configs unchanged.
type DataType int32

const (
	Float DataType = iota
	Half
	Int8
	Int32
	Bool
	UInt8
	FP8
	BF16
	Int64
)

var names = [...]string{
	Float: "float32",
	Half:  "float16",
	Int8:  "int8",
	Int32: "int32",
	Bool:  "bool",
	UInt8: "uint8",
	FP8:   "fp8",
	BF16:  "bfloat16",
	Int64: "int64",
}

// String returns the canonical engine spelling.
func (t DataType) String() string {
	if t.Valid() {
		return names[t]
	}
	return fmt.Sprintf("DataType(%d)", int32(t))
}

// Valid reports whether t is one of the enumerated types.
func (t DataType) Valid() bool {
	return t >= Float && int(t) < len(names)
}

// Size returns the width of one element in bytes.
func (t DataType) Size() int {
	switch t {
	case Float, Int32:
		return 4
	case Half, BF16:
		return 2
	case Int8, UInt8, Bool, FP8:
		return 1
	case Int64:
		return 8
	default:
		return 0
	}
}

// ParseDataType accepts the spellings found in engine and checkpoint configs.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "fp32", "float", "f32":
		return Float, nil
	case "float16", "fp16", "half", "f16":
		return Half, nil
	case "bfloat16", "bf16":
		return BF16, nil
	case "fp8", "float8", "e4m3":
		return FP8, nil
	case "int8", "i8":
		return Int8, nil
	case "uint8", "u8":
		return UInt8, nil
	case "int32", "i32":
		return Int32, nil
	case "int64", "i64":
		return Int64, nil
	case "bool":
		return Bool, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDataType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDataType, int32(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
