package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/engine"
	"github.com/hupe1980/colbridge/schema"
)

type mapCatalog map[string]schema.RowType

func (c mapCatalog) RowType(table string) (schema.RowType, bool) {
	rt, ok := c[table]
	return rt, ok
}

func testCatalog() mapCatalog {
	return mapCatalog{
		"people": {
			{Name: "id", Type: schema.HostType{Kind: schema.HostInt64}},
			{Name: "name", Type: schema.HostType{Kind: schema.HostText}, Nullable: true},
			{Name: "age", Type: schema.HostType{Kind: schema.HostInt32}, Nullable: true},
			{Name: "score", Type: schema.HostType{Kind: schema.HostFloat64}, Nullable: true},
			{Name: "balance", Type: schema.HostType{Kind: schema.HostNumeric, Precision: 10, Scale: 2}, Nullable: true},
		},
	}
}

func TestTranslateFilterProject(t *testing.T) {
	frag := &Project{
		Input: &Filter{
			Input: &Scan{Table: "people"},
			Pred: &Compare{
				Op: CmpGt,
				L:  &ColumnRef{Name: "age"},
				R:  &Const{Value: column.Int64Datum(30)},
			},
		},
		Names: []string{"name", "age"},
		Exprs: []Expr{&ColumnRef{Name: "name"}, &ColumnRef{Name: "age"}},
	}
	declared := schema.RowType{
		{Name: "name", Type: schema.HostType{Kind: schema.HostText}, Nullable: true},
		{Name: "age", Type: schema.HostType{Kind: schema.HostInt32}, Nullable: true},
	}

	p, err := Translate(frag, declared, schema.NewMapper(), testCatalog())
	require.NoError(t, err)
	require.Len(t, p.Schema, 2)
	assert.False(t, p.Ordered)

	proj, ok := p.Root.(*engine.ProjectNode)
	require.True(t, ok)

	// Column names became input ordinals.
	ref, ok := proj.Exprs[1].(*engine.ColExpr)
	require.True(t, ok)
	assert.Equal(t, 2, ref.Idx)
	assert.Equal(t, column.TypeInt64, ref.Typ, "int4 widens to int64")

	filter, ok := proj.Input.(*engine.FilterNode)
	require.True(t, ok)
	_, ok = filter.Input.(*engine.ScanNode)
	require.True(t, ok)
}

func TestTranslatePromotesIntToFloat(t *testing.T) {
	frag := &Project{
		Input: &Scan{Table: "people"},
		Names: []string{"v"},
		Exprs: []Expr{&Arith{
			Op: ArithAdd,
			L:  &ColumnRef{Name: "age"},
			R:  &ColumnRef{Name: "score"},
		}},
	}
	declared := schema.RowType{
		{Name: "v", Type: schema.HostType{Kind: schema.HostFloat64}, Nullable: true},
	}

	p, err := Translate(frag, declared, schema.NewMapper(), testCatalog())
	require.NoError(t, err)

	proj := p.Root.(*engine.ProjectNode)
	arith, ok := proj.Exprs[0].(*engine.ArithExpr)
	require.True(t, ok)
	assert.Equal(t, column.TypeFloat64, arith.Typ)
	_, ok = arith.L.(*engine.CastExpr)
	assert.True(t, ok, "integer operand gets a widening cast")
}

func TestTranslateAggregate(t *testing.T) {
	frag := &Aggregate{
		Input:   &Scan{Table: "people"},
		GroupBy: []Expr{&ColumnRef{Name: "name"}},
		Names:   []string{"n", "avg_age"},
		Aggs: []AggExpr{
			{Fn: AggCountStar},
			{Fn: AggAvg, Arg: &ColumnRef{Name: "age"}},
		},
	}
	declared := schema.RowType{
		{Name: "name", Type: schema.HostType{Kind: schema.HostText}, Nullable: true},
		{Name: "n", Type: schema.HostType{Kind: schema.HostInt64}},
		{Name: "avg_age", Type: schema.HostType{Kind: schema.HostFloat64}, Nullable: true},
	}

	p, err := Translate(frag, declared, schema.NewMapper(), testCatalog())
	require.NoError(t, err)

	agg := p.Root.(*engine.AggregateNode)
	require.Len(t, agg.Aggs, 2)
	assert.Equal(t, engine.AggCountStar, agg.Aggs[0].Fn)
	assert.Equal(t, column.TypeFloat64, agg.Aggs[1].Type, "avg yields a float")
}

func TestTranslateOrdered(t *testing.T) {
	sorted := &Sort{
		Input: &Scan{Table: "people"},
		Keys:  []SortKey{{Column: "age", Desc: true}},
	}
	declared := testCatalog()["people"]

	p, err := Translate(sorted, declared, schema.NewMapper(), testCatalog())
	require.NoError(t, err)
	assert.True(t, p.Ordered)

	p, err = Translate(&Limit{Input: sorted, Count: 10}, declared, schema.NewMapper(), testCatalog())
	require.NoError(t, err)
	assert.True(t, p.Ordered, "limit over sort keeps the order")
}

func TestTranslateRejections(t *testing.T) {
	cat := testCatalog()
	declared := cat["people"]

	tests := []struct {
		name string
		frag Node
	}{
		{
			name: "join",
			frag: &Join{Left: &Scan{Table: "people"}, Right: &Scan{Table: "people"}},
		},
		{
			name: "host function",
			frag: &Filter{
				Input: &Scan{Table: "people"},
				Pred:  &FuncCall{Name: "lower", Args: []Expr{&ColumnRef{Name: "name"}}},
			},
		},
		{
			name: "unknown table",
			frag: &Scan{Table: "nope"},
		},
		{
			name: "unknown column",
			frag: &Filter{
				Input: &Scan{Table: "people"},
				Pred:  &IsNull{E: &ColumnRef{Name: "nope"}},
			},
		},
		{
			name: "non-boolean predicate",
			frag: &Filter{
				Input: &Scan{Table: "people"},
				Pred:  &ColumnRef{Name: "age"},
			},
		},
		{
			name: "incompatible comparison",
			frag: &Filter{
				Input: &Scan{Table: "people"},
				Pred: &Compare{
					Op: CmpEq,
					L:  &ColumnRef{Name: "name"},
					R:  &ColumnRef{Name: "age"},
				},
			},
		},
		{
			name: "decimal multiplication",
			frag: &Project{
				Input: &Scan{Table: "people"},
				Names: []string{"v"},
				Exprs: []Expr{&Arith{
					Op: ArithMul,
					L:  &ColumnRef{Name: "balance"},
					R:  &ColumnRef{Name: "balance"},
				}},
			},
		},
		{
			name: "negative limit",
			frag: &Limit{Input: &Scan{Table: "people"}, Count: -1},
		},
		{
			name: "unknown sort column",
			frag: &Sort{Input: &Scan{Table: "people"}, Keys: []SortKey{{Column: "nope"}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Translate(tc.frag, declared, schema.NewMapper(), cat)
			require.Error(t, err)

			var terr *TranslationError
			require.ErrorAs(t, err, &terr)
		})
	}
}

func TestTranslateUnsupportedHostType(t *testing.T) {
	cat := mapCatalog{
		"weird": {
			{Name: "tags", Type: schema.HostType{Kind: schema.HostArray}, Nullable: true},
		},
	}

	_, err := Translate(&Scan{Table: "weird"}, cat["weird"], schema.NewMapper(), cat)
	require.Error(t, err)

	var uerr *schema.UnsupportedTypeError
	require.ErrorAs(t, err, &uerr, "type gaps report as unsupported type, not translation failure")
}

func TestTranslateOutputMismatch(t *testing.T) {
	frag := &Project{
		Input: &Scan{Table: "people"},
		Names: []string{"age"},
		Exprs: []Expr{&ColumnRef{Name: "age"}},
	}
	// Host claims the output is text; the fragment yields an integer.
	declared := schema.RowType{
		{Name: "age", Type: schema.HostType{Kind: schema.HostText}, Nullable: true},
	}

	_, err := Translate(frag, declared, schema.NewMapper(), testCatalog())
	require.Error(t, err)

	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "output", terr.Construct)
}

func TestTranslateOutputNullabilityMismatch(t *testing.T) {
	frag := &Project{
		Input: &Scan{Table: "people"},
		Names: []string{"age"},
		Exprs: []Expr{&ColumnRef{Name: "age"}},
	}
	// Host declares the output not null; the fragment projects a nullable
	// column, so a null could reach a column the host promised non-null.
	declared := schema.RowType{
		{Name: "age", Type: schema.HostType{Kind: schema.HostInt32}},
	}

	_, err := Translate(frag, declared, schema.NewMapper(), testCatalog())
	require.Error(t, err)

	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "output", terr.Construct)

	// The reverse direction widens and stays legal: a non-null column may
	// feed a host column declared nullable.
	okDeclared := schema.RowType{
		{Name: "id", Type: schema.HostType{Kind: schema.HostInt64}, Nullable: true},
	}
	okFrag := &Project{
		Input: &Scan{Table: "people"},
		Names: []string{"id"},
		Exprs: []Expr{&ColumnRef{Name: "id"}},
	}
	_, err = Translate(okFrag, okDeclared, schema.NewMapper(), testCatalog())
	require.NoError(t, err)
}
