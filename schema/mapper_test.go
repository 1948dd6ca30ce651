package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbridge/column"
)

func TestMapper_SupportedTypes(t *testing.T) {
	rt := RowType{
		{Name: "active", Type: HostType{Kind: HostBool}},
		{Name: "age", Type: HostType{Kind: HostInt32}, Nullable: true},
		{Name: "total", Type: HostType{Kind: HostInt64}},
		{Name: "ratio", Type: HostType{Kind: HostFloat32}},
		{Name: "price", Type: HostType{Kind: HostNumeric, Precision: 10, Scale: 2}},
		{Name: "name", Type: HostType{Kind: HostVarChar, Width: 64}, Nullable: true},
		{Name: "blob", Type: HostType{Kind: HostBytea}},
		{Name: "created", Type: HostType{Kind: HostTimestamp}},
	}

	m := NewMapper()
	ls, err := m.Map(rt)
	require.NoError(t, err)
	require.Len(t, ls, len(rt))

	assert.Equal(t, column.TypeBool, ls[0].Type)
	assert.Equal(t, column.TypeInt64, ls[1].Type)
	assert.True(t, ls[1].Nullable)
	assert.Equal(t, column.TypeInt64, ls[2].Type)
	assert.Equal(t, column.TypeFloat64, ls[3].Type)
	assert.Equal(t, column.TypeDecimal, ls[4].Type)
	assert.Equal(t, 2, ls[4].Scale)
	assert.Equal(t, column.TypeString, ls[5].Type)
	assert.Equal(t, column.TypeBytes, ls[6].Type)
	assert.Equal(t, column.TypeTimestamp, ls[7].Type)

	// Column order mirrors the host row type exactly.
	for i := range rt {
		assert.Equal(t, rt[i].Name, ls[i].Name)
		assert.Equal(t, rt[i].Nullable, ls[i].Nullable)
	}
}

func TestMapper_UnsupportedTypes(t *testing.T) {
	tests := []struct {
		name string
		typ  HostType
	}{
		{name: "composite", typ: HostType{Kind: HostComposite}},
		{name: "array", typ: HostType{Kind: HostArray}},
		{name: "domain", typ: HostType{Kind: HostDomain}},
		{name: "range", typ: HostType{Kind: HostRange}},
		{name: "enum", typ: HostType{Kind: HostEnum}},
	}

	m := NewMapper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Map(RowType{{Name: "c", Type: tt.typ}})
			var ute *UnsupportedTypeError
			require.ErrorAs(t, err, &ute)
			assert.Equal(t, "c", ute.Column)
			assert.Equal(t, tt.typ, ute.HostType)
		})
	}
}

func TestMapper_NumericPrecisionRejected(t *testing.T) {
	// Precision beyond the engine mantissa must fail, naming the column,
	// rather than truncating.
	m := NewMapper()
	_, err := m.Map(RowType{
		{Name: "ok", Type: HostType{Kind: HostNumeric, Precision: 18, Scale: 4}},
		{Name: "too_wide", Type: HostType{Kind: HostNumeric, Precision: 38, Scale: 10}},
	})

	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "too_wide", ute.Column)
}

func TestMapper_CacheSameShape(t *testing.T) {
	rt := RowType{
		{Name: "a", Type: HostType{Kind: HostInt64}},
		{Name: "b", Type: HostType{Kind: HostText}, Nullable: true},
	}

	m := NewMapper()
	first, err := m.Map(rt)
	require.NoError(t, err)

	// The second call for an identical shape returns the cached schema.
	second, err := m.Map(RowType{
		{Name: "a", Type: HostType{Kind: HostInt64}},
		{Name: "b", Type: HostType{Kind: HostText}, Nullable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, &first[0], &second[0])
}

func TestMapper_Deterministic(t *testing.T) {
	rt := RowType{{Name: "x", Type: HostType{Kind: HostNumeric, Precision: 9, Scale: 3}}}

	a, err := NewMapper().Map(rt)
	require.NoError(t, err)
	b, err := NewMapper().Map(rt)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
