package colbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/engine"
	"github.com/hupe1980/colbridge/plan"
	"github.com/hupe1980/colbridge/schema"
)

func peopleRowType() schema.RowType {
	return schema.RowType{
		{Name: "id", Type: schema.HostType{Kind: schema.HostInt64}},
		{Name: "name", Type: schema.HostType{Kind: schema.HostText}, Nullable: true},
		{Name: "age", Type: schema.HostType{Kind: schema.HostInt64}, Nullable: true},
	}
}

func newTestBridge(t *testing.T, optFns ...func(*Options)) *Bridge {
	t.Helper()

	rows := []column.Row{
		{column.Int64Datum(1), column.StringDatum("alice"), column.Int64Datum(34)},
		{column.Int64Datum(2), column.StringDatum("bob"), column.Int64Datum(28)},
		{column.Int64Datum(3), column.StringDatum("carol"), column.Int64Datum(41)},
		{column.Int64Datum(4), column.NullDatum(column.TypeString), column.NullDatum(column.TypeInt64)},
	}
	tbl, err := engine.NewTable("people", peopleRowType(), rows, schema.NewMapper())
	require.NoError(t, err)

	provider := engine.NewMemProvider()
	provider.Register(tbl)

	b := New(provider, optFns...)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func olderThanFragment(age int64) plan.Node {
	return &plan.Project{
		Input: &plan.Filter{
			Input: &plan.Scan{Table: "people"},
			Pred: &plan.Compare{
				Op: plan.CmpGt,
				L:  &plan.ColumnRef{Name: "age"},
				R:  &plan.Const{Value: column.Int64Datum(age)},
			},
		},
		Names: []string{"name", "age"},
		Exprs: []plan.Expr{&plan.ColumnRef{Name: "name"}, &plan.ColumnRef{Name: "age"}},
	}
}

func olderThanRowType() schema.RowType {
	return schema.RowType{
		{Name: "name", Type: schema.HostType{Kind: schema.HostText}, Nullable: true},
		{Name: "age", Type: schema.HostType{Kind: schema.HostInt64}, Nullable: true},
	}
}

func TestBridgeExecute(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	b := newTestBridge(t, WithMetrics(metrics))

	cursor, err := b.Execute(context.Background(), olderThanFragment(30), olderThanRowType())
	require.NoError(t, err)
	defer cursor.Close()

	require.Len(t, cursor.Schema(), 2)

	var names []string
	for cursor.Next() {
		row := cursor.Row()
		require.Len(t, row, 2)
		if !row[0].Null {
			names = append(names, row[0].S)
		}
	}
	require.NoError(t, cursor.Err())
	assert.Equal(t, []string{"alice", "carol"}, names)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.TranslateCount)
	assert.Equal(t, int64(1), stats.ExecuteCount)
	assert.Equal(t, int64(2), stats.RowsDelivered)
}

func TestBridgeExecuteSQL(t *testing.T) {
	b := newTestBridge(t)

	cursor, err := b.ExecuteSQL(context.Background(),
		"SELECT name FROM people WHERE age > 30 ORDER BY age DESC LIMIT 1")
	require.NoError(t, err)
	defer cursor.Close()

	require.True(t, cursor.Next())
	assert.Equal(t, "carol", cursor.Row()[0].S)
	require.False(t, cursor.Next())
	require.NoError(t, cursor.Err())
}

func TestBridgeFallback(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	b := newTestBridge(t, WithMetrics(metrics))

	frag := &plan.Join{
		Left:  &plan.Scan{Table: "people"},
		Right: &plan.Scan{Table: "people"},
	}
	_, err := b.Execute(context.Background(), frag, peopleRowType())
	require.Error(t, err)
	assert.True(t, IsFallback(err), "joins refuse before touching the engine")
	assert.Equal(t, int64(1), metrics.GetStats().FallbackCount)

	// Budget errors are not fallbacks.
	assert.False(t, IsFallback(ErrResourceExhausted))
}

func TestBridgeUnsupportedType(t *testing.T) {
	rt := schema.RowType{
		{Name: "tags", Type: schema.HostType{Kind: schema.HostArray}, Nullable: true},
	}
	tbl, err := engine.NewTable("plain", schema.RowType{
		{Name: "id", Type: schema.HostType{Kind: schema.HostInt64}},
	}, nil, schema.NewMapper())
	require.NoError(t, err)

	provider := engine.NewMemProvider()
	provider.Register(tbl)
	provider.Register(&engine.Table{Name: "weird", RowType: rt})

	b := New(provider)
	defer b.Close()

	_, err = b.Execute(context.Background(), &plan.Scan{Table: "weird"}, rt)
	require.Error(t, err)
	assert.True(t, IsFallback(err))

	var uerr *schema.UnsupportedTypeError
	require.ErrorAs(t, err, &uerr)
}

func TestBridgeCancellation(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	b := newTestBridge(t, WithMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	cursor, err := b.Execute(ctx, olderThanFragment(0), olderThanRowType())
	require.NoError(t, err)
	defer cursor.Close()

	cancel()

	for cursor.Next() {
	}
	require.ErrorIs(t, cursor.Err(), ErrCancelled)
	assert.Equal(t, int64(1), metrics.GetStats().CancelCount)
}

func TestBridgeCancelMidStreamReleasesMemory(t *testing.T) {
	// One row per batch makes the 4-row fixture a multi-batch stream.
	b := newTestBridge(t, WithEngineConfig(engine.Config{BatchSize: 1}))
	res := b.Runtime().Resources()

	cursor, err := b.Execute(context.Background(), olderThanFragment(-1), olderThanRowType())
	require.NoError(t, err)
	require.True(t, cursor.Next(), "first batch must arrive before cancelling")
	assert.Positive(t, res.MemoryUsage(), "an open context holds arena memory")

	cursor.Cancel()
	for cursor.Next() {
	}
	require.ErrorIs(t, cursor.Err(), ErrCancelled)
	require.NoError(t, cursor.Close())

	assert.Zero(t, res.MemoryUsage(), "close must return every acquired byte")
}

func TestCursorConcurrentClose(t *testing.T) {
	b := newTestBridge(t, WithEngineConfig(engine.Config{BatchSize: 1, CheckInterval: 1}))

	cursor, err := b.Execute(context.Background(), olderThanFragment(-1), olderThanRowType())
	require.NoError(t, err)

	firstRow := make(chan struct{})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		<-firstRow
		_ = cursor.Close()
	}()

	rows := 0
	for cursor.Next() {
		rows++
		if rows == 1 {
			close(firstRow)
		}
	}
	<-closed

	// The consumer observed either a clean early close or the cancellation
	// it triggered; never a torn state.
	if err := cursor.Err(); err != nil {
		require.ErrorIs(t, err, ErrCancelled)
	}
	require.NoError(t, cursor.Close())
	assert.Zero(t, b.Runtime().Resources().MemoryUsage())
}

func TestBridgeResourceExhausted(t *testing.T) {
	b := newTestBridge(t, WithEngineConfig(engine.Config{
		MemoryLimitBytes: 1024,
		ArenaChunkSize:   1 << 16,
	}))

	_, err := b.Execute(context.Background(), olderThanFragment(30), olderThanRowType())
	require.ErrorIs(t, err, ErrResourceExhausted)
}

func TestBridgeClosed(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Execute(context.Background(), olderThanFragment(30), olderThanRowType())
	require.ErrorIs(t, err, ErrClosed)

	_, err = b.ExecuteSQL(context.Background(), "SELECT * FROM people")
	require.ErrorIs(t, err, ErrClosed)
}

func TestCursorEarlyClose(t *testing.T) {
	b := newTestBridge(t)

	cursor, err := b.Execute(context.Background(), olderThanFragment(0), olderThanRowType())
	require.NoError(t, err)

	require.True(t, cursor.Next())
	require.NoError(t, cursor.Close())
	require.NoError(t, cursor.Close())

	assert.False(t, cursor.Next())
	assert.NoError(t, cursor.Err(), "consumer-initiated close is not an error")
}

func TestExecutionErrorSurface(t *testing.T) {
	b := newTestBridge(t)

	// id / (id - id) divides by zero on every row.
	frag := &plan.Project{
		Input: &plan.Scan{Table: "people"},
		Names: []string{"q"},
		Exprs: []plan.Expr{&plan.Arith{
			Op: plan.ArithDiv,
			L:  &plan.ColumnRef{Name: "id"},
			R: &plan.Arith{
				Op: plan.ArithSub,
				L:  &plan.ColumnRef{Name: "id"},
				R:  &plan.ColumnRef{Name: "id"},
			},
		}},
	}
	declared := schema.RowType{
		{Name: "q", Type: schema.HostType{Kind: schema.HostInt64}, Nullable: true},
	}

	cursor, err := b.Execute(context.Background(), frag, declared)
	require.NoError(t, err)
	defer cursor.Close()

	require.False(t, cursor.Next())

	var xerr *ExecutionError
	require.ErrorAs(t, cursor.Err(), &xerr)
	assert.False(t, IsFallback(cursor.Err()), "execution faults must surface, not fall back")
}
