package schema

import (
	"fmt"

	"github.com/hupe1980/colbridge/column"
)

// HostKind identifies a host catalog type.
type HostKind uint8

const (
	// HostInvalid represents an invalid host type.
	HostInvalid HostKind = iota
	// HostBool is the host boolean type.
	HostBool
	// HostInt16 is a 16-bit host integer.
	HostInt16
	// HostInt32 is a 32-bit host integer.
	HostInt32
	// HostInt64 is a 64-bit host integer.
	HostInt64
	// HostFloat32 is a 32-bit host float.
	HostFloat32
	// HostFloat64 is a 64-bit host float.
	HostFloat64
	// HostNumeric is a fixed-precision host decimal.
	HostNumeric
	// HostText is an unbounded host string.
	HostText
	// HostVarChar is a bounded host string.
	HostVarChar
	// HostBytea is a host byte array.
	HostBytea
	// HostDate is a host calendar date.
	HostDate
	// HostTimestamp is a host timestamp.
	HostTimestamp
	// HostUUID is a host UUID.
	HostUUID

	// Kinds below have no engine representation; mapping them fails fast.

	// HostComposite is a host composite (record) type.
	HostComposite
	// HostArray is a host array type.
	HostArray
	// HostDomain is a host domain type.
	HostDomain
	// HostRange is a host range type.
	HostRange
	// HostEnum is a host enumeration type.
	HostEnum
)

// String returns the string representation of the HostKind.
func (k HostKind) String() string {
	switch k {
	case HostBool:
		return "bool"
	case HostInt16:
		return "int2"
	case HostInt32:
		return "int4"
	case HostInt64:
		return "int8"
	case HostFloat32:
		return "float4"
	case HostFloat64:
		return "float8"
	case HostNumeric:
		return "numeric"
	case HostText:
		return "text"
	case HostVarChar:
		return "varchar"
	case HostBytea:
		return "bytea"
	case HostDate:
		return "date"
	case HostTimestamp:
		return "timestamp"
	case HostUUID:
		return "uuid"
	case HostComposite:
		return "composite"
	case HostArray:
		return "array"
	case HostDomain:
		return "domain"
	case HostRange:
		return "range"
	case HostEnum:
		return "enum"
	default:
		return "invalid"
	}
}

// HostType is a host catalog type with its modifiers.
type HostType struct {
	Kind      HostKind
	Precision int // HostNumeric
	Scale     int // HostNumeric
	Width     int // HostVarChar
}

func (t HostType) String() string {
	switch t.Kind {
	case HostNumeric:
		return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
	case HostVarChar:
		return fmt.Sprintf("varchar(%d)", t.Width)
	default:
		return t.Kind.String()
	}
}

// HostColumn is one column of a host row type.
type HostColumn struct {
	Name     string
	Type     HostType
	Nullable bool
}

// RowType is the host fragment's declared output (or table) row type.
type RowType []HostColumn

// ColumnDescriptor describes one engine-side output column.
type ColumnDescriptor struct {
	Name     string
	Type     column.Type
	Scale    int // decimal scale, 0 otherwise
	Nullable bool
}

// LogicalSchema is the engine-neutral schema of a translated fragment.
// Column order and nullability match the host row type exactly; a mismatch
// is a translation failure, never a runtime one.
type LogicalSchema []ColumnDescriptor
