package column

import (
	"fmt"
	"strconv"
	"time"
)

// Type identifies the engine-side representation of a column.
type Type uint8

const (
	// TypeInvalid represents an invalid type.
	TypeInvalid Type = iota
	// TypeBool represents a boolean column.
	TypeBool
	// TypeInt64 represents a signed 64-bit integer column.
	TypeInt64
	// TypeFloat64 represents a 64-bit floating point column.
	TypeFloat64
	// TypeDecimal represents a fixed-precision decimal column stored as a
	// scaled int64 mantissa. Precision is capped so the mantissa never
	// narrows; wider host decimals are rejected at mapping time.
	TypeDecimal
	// TypeString represents a UTF-8 string column.
	TypeString
	// TypeBytes represents a raw byte column.
	TypeBytes
	// TypeTimestamp represents a microsecond-precision timestamp column.
	TypeTimestamp
)

// String returns the string representation of the Type.
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "Bool"
	case TypeInt64:
		return "Int64"
	case TypeFloat64:
		return "Float64"
	case TypeDecimal:
		return "Decimal"
	case TypeString:
		return "String"
	case TypeBytes:
		return "Bytes"
	case TypeTimestamp:
		return "Timestamp"
	default:
		return "Invalid"
	}
}

// FixedWidth reports whether the type has a fixed per-cell byte width.
// Fixed-width cells live in arena-backed buffers; variable-width cells
// (strings, bytes) live on the Go heap.
func (t Type) FixedWidth() bool {
	switch t {
	case TypeBool, TypeInt64, TypeFloat64, TypeDecimal, TypeTimestamp:
		return true
	default:
		return false
	}
}

// Datum is one host-facing cell value. The zero value is an invalid datum.
//
// For TypeDecimal, I64 holds the scaled mantissa and Scale the number of
// fractional digits. For TypeTimestamp, I64 holds microseconds since the
// Unix epoch.
type Datum struct {
	Type  Type
	Null  bool
	Bool  bool
	I64   int64
	F64   float64
	S     string
	B     []byte
	Scale int
}

// Row is the host's row representation: one Datum per output column, in
// schema order.
type Row []Datum

// NullDatum returns a null cell of the given type.
func NullDatum(t Type) Datum {
	return Datum{Type: t, Null: true}
}

// BoolDatum returns a boolean cell.
func BoolDatum(v bool) Datum {
	return Datum{Type: TypeBool, Bool: v}
}

// Int64Datum returns an integer cell.
func Int64Datum(v int64) Datum {
	return Datum{Type: TypeInt64, I64: v}
}

// Float64Datum returns a floating point cell.
func Float64Datum(v float64) Datum {
	return Datum{Type: TypeFloat64, F64: v}
}

// DecimalDatum returns a decimal cell from a scaled mantissa.
func DecimalDatum(mantissa int64, scale int) Datum {
	return Datum{Type: TypeDecimal, I64: mantissa, Scale: scale}
}

// StringDatum returns a string cell.
func StringDatum(v string) Datum {
	return Datum{Type: TypeString, S: v}
}

// BytesDatum returns a raw byte cell.
func BytesDatum(v []byte) Datum {
	return Datum{Type: TypeBytes, B: v}
}

// TimestampDatum returns a timestamp cell from a time value.
func TimestampDatum(v time.Time) Datum {
	return Datum{Type: TypeTimestamp, I64: v.UnixMicro()}
}

// IsNull reports whether the cell is null.
func (d Datum) IsNull() bool {
	return d.Null
}

// Time renders a timestamp cell as time.Time in UTC.
func (d Datum) Time() time.Time {
	return time.UnixMicro(d.I64).UTC()
}

func (d Datum) String() string {
	if d.Null {
		return "NULL"
	}
	switch d.Type {
	case TypeBool:
		return strconv.FormatBool(d.Bool)
	case TypeInt64:
		return strconv.FormatInt(d.I64, 10)
	case TypeFloat64:
		return strconv.FormatFloat(d.F64, 'g', -1, 64)
	case TypeDecimal:
		return formatDecimal(d.I64, d.Scale)
	case TypeString:
		return d.S
	case TypeBytes:
		return fmt.Sprintf("%x", d.B)
	case TypeTimestamp:
		return d.Time().Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

func formatDecimal(mantissa int64, scale int) string {
	if scale <= 0 {
		return strconv.FormatInt(mantissa, 10)
	}
	neg := mantissa < 0
	if neg {
		mantissa = -mantissa
	}
	s := strconv.FormatInt(mantissa, 10)
	for len(s) <= scale {
		s = "0" + s
	}
	out := s[:len(s)-scale] + "." + s[len(s)-scale:]
	if neg {
		out = "-" + out
	}
	return out
}
