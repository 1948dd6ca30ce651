package sqlfront

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbridge/plan"
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
			{Name: "age", Type: schema.HostType{Kind: schema.HostInt64}, Nullable: true},
		},
	}
}

func TestParseSelectStar(t *testing.T) {
	node, rt, err := Parse("SELECT * FROM people", testCatalog())
	require.NoError(t, err)

	scan, ok := node.(*plan.Scan)
	require.True(t, ok)
	assert.Equal(t, "people", scan.Table)
	assert.Len(t, rt, 3)
}

func TestParseFilterProject(t *testing.T) {
	node, rt, err := Parse("SELECT name, age FROM people WHERE age > 30", testCatalog())
	require.NoError(t, err)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	assert.Equal(t, []string{"name", "age"}, proj.Names)

	filter, ok := proj.Input.(*plan.Filter)
	require.True(t, ok)

	cmp, ok := filter.Pred.(*plan.Compare)
	require.True(t, ok)
	assert.Equal(t, plan.CmpGt, cmp.Op)

	require.Len(t, rt, 2)
	assert.Equal(t, "name", rt[0].Name)
	assert.True(t, rt[0].Nullable)
}

func TestParseAggregate(t *testing.T) {
	node, rt, err := Parse(
		"SELECT name, count(*) AS n, avg(age) AS avg_age FROM people GROUP BY name",
		testCatalog(),
	)
	require.NoError(t, err)

	agg, ok := node.(*plan.Aggregate)
	require.True(t, ok)
	require.Len(t, agg.GroupBy, 1)
	require.Len(t, agg.Aggs, 2)
	assert.Equal(t, plan.AggCountStar, agg.Aggs[0].Fn)
	assert.Equal(t, plan.AggAvg, agg.Aggs[1].Fn)

	require.Len(t, rt, 3)
	assert.Equal(t, "name", rt[0].Name)
	assert.Equal(t, "n", rt[1].Name)
	assert.Equal(t, schema.HostFloat64, rt[2].Type.Kind, "avg declares a float output")
}

func TestParseOrderLimit(t *testing.T) {
	node, _, err := Parse("SELECT * FROM people ORDER BY age DESC LIMIT 5", testCatalog())
	require.NoError(t, err)

	limit, ok := node.(*plan.Limit)
	require.True(t, ok)
	assert.Equal(t, int64(5), limit.Count)

	sorted, ok := limit.Input.(*plan.Sort)
	require.True(t, ok)
	require.Len(t, sorted.Keys, 1)
	assert.Equal(t, "age", sorted.Keys[0].Column)
	assert.True(t, sorted.Keys[0].Desc)
}

func TestParseNullPredicate(t *testing.T) {
	node, _, err := Parse("SELECT * FROM people WHERE age IS NOT NULL AND NOT (age < 18)", testCatalog())
	require.NoError(t, err)

	filter, ok := node.(*plan.Filter)
	require.True(t, ok)

	logic, ok := filter.Pred.(*plan.Logic)
	require.True(t, ok)
	assert.Equal(t, plan.LogicAnd, logic.Op)

	isNull, ok := logic.L.(*plan.IsNull)
	require.True(t, ok)
	assert.True(t, isNull.Negate)

	_, ok = logic.R.(*plan.Not)
	require.True(t, ok)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "not a select", query: "DELETE FROM people"},
		{name: "join", query: "SELECT * FROM people p JOIN people q ON p.id = q.id"},
		{name: "distinct", query: "SELECT DISTINCT name FROM people"},
		{name: "having", query: "SELECT name, count(*) FROM people GROUP BY name HAVING count(*) > 1"},
		{name: "offset", query: "SELECT * FROM people LIMIT 5 OFFSET 5"},
		{name: "unknown table", query: "SELECT * FROM nope"},
		{name: "unknown column", query: "SELECT nope FROM people"},
		{name: "ungrouped column", query: "SELECT name, age, count(*) FROM people GROUP BY name"},
		{name: "scalar function", query: "SELECT lower(name) FROM people"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.query, testCatalog())
			require.Error(t, err)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}
