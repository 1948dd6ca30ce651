// Package schema maps host catalog row types onto the embedded engine's
// column types and back.
//
// Mapping is total and deterministic over the supported subset: a host type
// either maps to an equal-or-wider engine representation or is rejected with
// UnsupportedTypeError before any execution resources are allocated.
// Narrowing never happens silently.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/colbridge/column"
)

// MaxDecimalPrecision is the widest host numeric the engine's int64-mantissa
// decimal can hold without losing digits.
const MaxDecimalPrecision = 18

// UnsupportedTypeError indicates a host column type without a lossless
// engine representation.
type UnsupportedTypeError struct {
	Column   string
	HostType HostType
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported host type %s for column %q", e.HostType, e.Column)
}

// Mapper caches schema mappings per distinct row-type shape for the process
// lifetime. Catalog types are resolved before translation begins, so cached
// entries never need invalidation.
type Mapper struct {
	cache sync.Map // fingerprint -> LogicalSchema
}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Map translates a host row type into the engine-neutral logical schema.
func (m *Mapper) Map(rt RowType) (LogicalSchema, error) {
	key := fingerprint(rt)
	if cached, ok := m.cache.Load(key); ok {
		return cached.(LogicalSchema), nil
	}

	ls := make(LogicalSchema, len(rt))
	for i, col := range rt {
		desc, err := MapColumn(col)
		if err != nil {
			return nil, err
		}
		ls[i] = desc
	}

	actual, _ := m.cache.LoadOrStore(key, ls)
	return actual.(LogicalSchema), nil
}

// MapColumn maps a single host column.
func MapColumn(col HostColumn) (ColumnDescriptor, error) {
	typ, scale, ok := engineType(col.Type)
	if !ok {
		return ColumnDescriptor{}, &UnsupportedTypeError{Column: col.Name, HostType: col.Type}
	}
	return ColumnDescriptor{
		Name:     col.Name,
		Type:     typ,
		Scale:    scale,
		Nullable: col.Nullable,
	}, nil
}

// engineType picks the equal-or-wider engine representation for a host type.
func engineType(t HostType) (column.Type, int, bool) {
	switch t.Kind {
	case HostBool:
		return column.TypeBool, 0, true
	case HostInt16, HostInt32, HostInt64:
		return column.TypeInt64, 0, true
	case HostFloat32, HostFloat64:
		return column.TypeFloat64, 0, true
	case HostNumeric:
		// An int64 mantissa holds at most 18 full digits; a wider numeric
		// would narrow, so it is rejected instead.
		if t.Precision <= 0 || t.Precision > MaxDecimalPrecision || t.Scale < 0 || t.Scale > t.Precision {
			return column.TypeInvalid, 0, false
		}
		return column.TypeDecimal, t.Scale, true
	case HostText, HostVarChar, HostUUID:
		return column.TypeString, 0, true
	case HostBytea:
		return column.TypeBytes, 0, true
	case HostDate, HostTimestamp:
		return column.TypeTimestamp, 0, true
	default:
		return column.TypeInvalid, 0, false
	}
}

func fingerprint(rt RowType) string {
	var sb strings.Builder
	for _, c := range rt {
		fmt.Fprintf(&sb, "%s:%d:%d:%d:%d:%t;", c.Name, c.Type.Kind, c.Type.Precision, c.Type.Scale, c.Type.Width, c.Nullable)
	}
	return sb.String()
}
