package column

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Vector is a single column of an execution batch.
//
// A vector is append-only while the producing operator fills it and strictly
// read-only afterwards. Null markers are kept in a roaring bitmap next to the
// value buffer; the value slot of a null cell is undefined and must not be
// read.
type Vector struct {
	typ   Type
	scale int
	nulls *roaring.Bitmap // nil when no nulls yet

	bools []bool
	i64   []int64
	f64   []float64
	strs  []string
	bys   [][]byte
}

// NewVector creates a vector of the given type with room for capacity cells.
// Fixed-width buffers come from the allocator (the execution arena in
// production); variable-width cells stay on the Go heap.
func NewVector(ctx context.Context, typ Type, scale, capacity int, alloc Allocator) (*Vector, error) {
	v := &Vector{typ: typ, scale: scale}

	var err error
	switch typ {
	case TypeBool:
		v.bools, err = alloc.Bools(ctx, capacity)
	case TypeInt64, TypeDecimal, TypeTimestamp:
		v.i64, err = alloc.Int64s(ctx, capacity)
	case TypeFloat64:
		v.f64, err = alloc.Float64s(ctx, capacity)
	case TypeString:
		v.strs = make([]string, 0, capacity)
	case TypeBytes:
		v.bys = make([][]byte, 0, capacity)
	default:
		return nil, fmt.Errorf("column: cannot allocate vector of type %s", typ)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Type returns the engine type of the vector.
func (v *Vector) Type() Type { return v.typ }

// Scale returns the decimal scale (0 for non-decimal vectors).
func (v *Vector) Scale() int { return v.scale }

// Len returns the number of cells.
func (v *Vector) Len() int {
	switch v.typ {
	case TypeBool:
		return len(v.bools)
	case TypeInt64, TypeDecimal, TypeTimestamp:
		return len(v.i64)
	case TypeFloat64:
		return len(v.f64)
	case TypeString:
		return len(v.strs)
	case TypeBytes:
		return len(v.bys)
	default:
		return 0
	}
}

// IsNull reports whether cell i is null.
func (v *Vector) IsNull(i int) bool {
	return v.nulls != nil && v.nulls.Contains(uint32(i))
}

// Nulls returns the null bitmap, or nil when the vector has no nulls.
func (v *Vector) Nulls() *roaring.Bitmap { return v.nulls }

func (v *Vector) markNull(i int) {
	if v.nulls == nil {
		v.nulls = roaring.New()
	}
	v.nulls.Add(uint32(i))
}

// AppendNull appends a null cell.
func (v *Vector) AppendNull() {
	i := v.Len()
	switch v.typ {
	case TypeBool:
		v.bools = append(v.bools, false)
	case TypeInt64, TypeDecimal, TypeTimestamp:
		v.i64 = append(v.i64, 0)
	case TypeFloat64:
		v.f64 = append(v.f64, 0)
	case TypeString:
		v.strs = append(v.strs, "")
	case TypeBytes:
		v.bys = append(v.bys, nil)
	}
	v.markNull(i)
}

// AppendBool appends a boolean cell.
func (v *Vector) AppendBool(b bool) { v.bools = append(v.bools, b) }

// AppendInt64 appends an int64-backed cell (Int64, Decimal mantissa, Timestamp).
func (v *Vector) AppendInt64(x int64) { v.i64 = append(v.i64, x) }

// AppendFloat64 appends a float64 cell.
func (v *Vector) AppendFloat64(x float64) { v.f64 = append(v.f64, x) }

// AppendString appends a string cell.
func (v *Vector) AppendString(s string) { v.strs = append(v.strs, s) }

// AppendBytes appends a raw byte cell.
func (v *Vector) AppendBytes(b []byte) { v.bys = append(v.bys, b) }

// AppendDatum appends a host cell, which must match the vector type.
func (v *Vector) AppendDatum(d Datum) error {
	if d.Null {
		v.AppendNull()
		return nil
	}
	if d.Type != v.typ {
		return fmt.Errorf("column: cannot append %s datum to %s vector", d.Type, v.typ)
	}
	switch v.typ {
	case TypeBool:
		v.AppendBool(d.Bool)
	case TypeInt64, TypeDecimal, TypeTimestamp:
		v.AppendInt64(d.I64)
	case TypeFloat64:
		v.AppendFloat64(d.F64)
	case TypeString:
		v.AppendString(d.S)
	case TypeBytes:
		v.AppendBytes(d.B)
	default:
		return fmt.Errorf("column: cannot append to vector of type %s", v.typ)
	}
	return nil
}

// AppendFrom appends cell i of src, which must have the same type.
// Used by filtering operators to compact selected rows into a fresh vector.
func (v *Vector) AppendFrom(src *Vector, i int) {
	if src.IsNull(i) {
		v.AppendNull()
		return
	}
	switch v.typ {
	case TypeBool:
		v.AppendBool(src.bools[i])
	case TypeInt64, TypeDecimal, TypeTimestamp:
		v.AppendInt64(src.i64[i])
	case TypeFloat64:
		v.AppendFloat64(src.f64[i])
	case TypeString:
		v.AppendString(src.strs[i])
	case TypeBytes:
		v.AppendBytes(src.bys[i])
	}
}

// Bool returns the raw boolean at i. Undefined when the cell is null.
func (v *Vector) Bool(i int) bool { return v.bools[i] }

// Int64 returns the raw int64 at i. Undefined when the cell is null.
func (v *Vector) Int64(i int) int64 { return v.i64[i] }

// Float64 returns the raw float64 at i. Undefined when the cell is null.
func (v *Vector) Float64(i int) float64 { return v.f64[i] }

// StringAt returns the raw string at i. Undefined when the cell is null.
func (v *Vector) StringAt(i int) string { return v.strs[i] }

// BytesAt returns the raw bytes at i. Undefined when the cell is null.
func (v *Vector) BytesAt(i int) []byte { return v.bys[i] }

// Datum projects cell i into the host's cell representation.
//
// The projection is lossless by contract: any type whose columnar form could
// not round-trip must already have been rejected by the schema mapper.
func (v *Vector) Datum(i int) Datum {
	if v.IsNull(i) {
		d := NullDatum(v.typ)
		d.Scale = v.scale
		return d
	}
	switch v.typ {
	case TypeBool:
		return BoolDatum(v.bools[i])
	case TypeInt64:
		return Int64Datum(v.i64[i])
	case TypeDecimal:
		return DecimalDatum(v.i64[i], v.scale)
	case TypeTimestamp:
		return Datum{Type: TypeTimestamp, I64: v.i64[i]}
	case TypeFloat64:
		return Float64Datum(v.f64[i])
	case TypeString:
		return StringDatum(v.strs[i])
	case TypeBytes:
		return BytesDatum(v.bys[i])
	default:
		return Datum{}
	}
}
