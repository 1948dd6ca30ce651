package column

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildVector(t *testing.T, typ Type, scale int, datums ...Datum) *Vector {
	t.Helper()
	v, err := NewVector(context.Background(), typ, scale, len(datums), HeapAllocator{})
	require.NoError(t, err)
	for _, d := range datums {
		require.NoError(t, v.AppendDatum(d))
	}
	return v
}

func TestVector_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 17, 9, 30, 0, 123456000, time.UTC)

	tests := []struct {
		name string
		typ  Type
		in   Datum
	}{
		{name: "bool", typ: TypeBool, in: BoolDatum(true)},
		{name: "int64", typ: TypeInt64, in: Int64Datum(-42)},
		{name: "float64", typ: TypeFloat64, in: Float64Datum(3.25)},
		{name: "decimal", typ: TypeDecimal, in: DecimalDatum(12345, 2)},
		{name: "string", typ: TypeString, in: StringDatum("hello")},
		{name: "bytes", typ: TypeBytes, in: BytesDatum([]byte{0x01, 0x02})},
		{name: "timestamp", typ: TypeTimestamp, in: TimestampDatum(ts)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := buildVector(t, tt.typ, tt.in.Scale, tt.in)
			got := v.Datum(0)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestVector_NullMarkers(t *testing.T) {
	v := buildVector(t, TypeInt64, 0,
		Int64Datum(1), NullDatum(TypeInt64), Int64Datum(3))

	assert.Equal(t, 3, v.Len())
	assert.False(t, v.IsNull(0))
	assert.True(t, v.IsNull(1))
	assert.False(t, v.IsNull(2))

	d := v.Datum(1)
	assert.True(t, d.IsNull())
	assert.Equal(t, TypeInt64, d.Type)
}

func TestVector_AppendTypeMismatch(t *testing.T) {
	v, err := NewVector(context.Background(), TypeInt64, 0, 1, HeapAllocator{})
	require.NoError(t, err)

	err = v.AppendDatum(StringDatum("nope"))
	assert.Error(t, err)
}

func TestVector_AppendFrom(t *testing.T) {
	src := buildVector(t, TypeString, 0,
		StringDatum("a"), NullDatum(TypeString), StringDatum("c"))

	dst, err := NewVector(context.Background(), TypeString, 0, 2, HeapAllocator{})
	require.NoError(t, err)

	dst.AppendFrom(src, 2)
	dst.AppendFrom(src, 1)

	assert.Equal(t, "c", dst.Datum(0).S)
	assert.True(t, dst.Datum(1).IsNull())
}

func TestBatch_Row(t *testing.T) {
	names := buildVector(t, TypeString, 0, StringDatum("ada"), StringDatum("bob"))
	ages := buildVector(t, TypeInt64, 0, Int64Datum(36), NullDatum(TypeInt64))

	b, err := NewBatch([]*Vector{names, ages})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2, b.NumCols())

	var row Row
	row = b.Row(0, row)
	assert.Equal(t, "ada", row[0].S)
	assert.Equal(t, int64(36), row[1].I64)

	// The same buffer is reused across rows.
	row2 := b.Row(1, row)
	assert.Equal(t, "bob", row2[0].S)
	assert.True(t, row2[1].IsNull())
}

func TestBatch_LengthMismatch(t *testing.T) {
	a := buildVector(t, TypeInt64, 0, Int64Datum(1))
	b := buildVector(t, TypeInt64, 0, Int64Datum(1), Int64Datum(2))

	_, err := NewBatch([]*Vector{a, b})
	assert.Error(t, err)
}

func TestDatum_DecimalString(t *testing.T) {
	assert.Equal(t, "123.45", DecimalDatum(12345, 2).String())
	assert.Equal(t, "-0.05", DecimalDatum(-5, 2).String())
	assert.Equal(t, "7", DecimalDatum(7, 0).String())
}
