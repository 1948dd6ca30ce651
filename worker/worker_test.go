package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbridge"
	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/engine"
	"github.com/hupe1980/colbridge/ipc"
	"github.com/hupe1980/colbridge/ipc/compress"
	"github.com/hupe1980/colbridge/schema"
)

func newTestHarness(t *testing.T, slotSize int, busOpts []ipc.BusOption, execOpts ...ExecutorOption) *Client {
	t.Helper()

	rows := []column.Row{
		{column.Int64Datum(1), column.StringDatum("alice"), column.Int64Datum(34)},
		{column.Int64Datum(2), column.StringDatum("bob"), column.Int64Datum(28)},
		{column.Int64Datum(3), column.StringDatum("carol"), column.Int64Datum(41)},
		{column.Int64Datum(4), column.NullDatum(column.TypeString), column.NullDatum(column.TypeInt64)},
	}
	rt := schema.RowType{
		{Name: "id", Type: schema.HostType{Kind: schema.HostInt64}},
		{Name: "name", Type: schema.HostType{Kind: schema.HostText}, Nullable: true},
		{Name: "age", Type: schema.HostType{Kind: schema.HostInt64}, Nullable: true},
	}
	tbl, err := engine.NewTable("people", rt, rows, schema.NewMapper())
	require.NoError(t, err)

	provider := engine.NewMemProvider()
	provider.Register(tbl)

	bridge := colbridge.New(provider)
	t.Cleanup(func() { _ = bridge.Close() })

	bus := ipc.NewBus(slotSize, busOpts...)
	exec := NewExecutor(bridge, bus.WorkerStream(), execOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = exec.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return NewClient(bus.BackendStream())
}

func TestClientQuery(t *testing.T) {
	client := newTestHarness(t, 0, nil)

	res, err := client.Query(context.Background(), "SELECT name, age FROM people WHERE age > 30 ORDER BY age")
	require.NoError(t, err)

	require.Len(t, res.Schema, 2)
	assert.Equal(t, "name", res.Schema[0].Name)
	assert.Equal(t, column.TypeString, res.Schema[0].Type)
	assert.Equal(t, "age", res.Schema[1].Name)
	assert.Equal(t, column.TypeInt64, res.Schema[1].Type)
	assert.Equal(t, "none", res.Codec)

	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alice", res.Rows[0][0].S)
	assert.Equal(t, int64(34), res.Rows[0][1].I64)
	assert.Equal(t, "carol", res.Rows[1][0].S)
	assert.Equal(t, int64(41), res.Rows[1][1].I64)
}

func TestClientQueryNullRow(t *testing.T) {
	client := newTestHarness(t, 0, nil)

	res, err := client.Query(context.Background(), "SELECT name FROM people WHERE age IS NULL")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0][0].Null)
}

func TestClientSequentialQueries(t *testing.T) {
	client := newTestHarness(t, 0, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := client.Query(ctx, "SELECT count(*) FROM people")
		require.NoError(t, err, "query %d", i)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, int64(4), res.Rows[0][0].I64)
	}
}

func TestClientNotSupported(t *testing.T) {
	client := newTestHarness(t, 0, nil)

	_, err := client.Query(context.Background(), "SELECT upper(name) FROM people")
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, CodeNotSupported, qerr.Code)
	assert.True(t, qerr.IsNotSupported())

	// The session survives a rejected query.
	res, err := client.Query(context.Background(), "SELECT id FROM people LIMIT 1")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestClientExecutionFailure(t *testing.T) {
	client := newTestHarness(t, 0, nil)

	_, err := client.Query(context.Background(), "SELECT id / (id - id) FROM people")
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, CodeInternal, qerr.Code)
	assert.False(t, qerr.IsNotSupported())
}

func TestClientBatchSplitting(t *testing.T) {
	// A per-packet row cap forces the result across multiple Batch
	// packets, each compressed with the bus codec.
	busOpts := []ipc.BusOption{ipc.WithCodec(compress.S2{})}
	client := newTestHarness(t, 0, busOpts, WithBatchRows(2))

	res, err := client.Query(context.Background(), "SELECT id, name, age FROM people ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, "s2", res.Codec)
	require.Len(t, res.Rows, 4)
	for i, row := range res.Rows {
		assert.Equal(t, int64(i+1), row[0].I64)
	}
}

func TestExecutorRejectsNonParse(t *testing.T) {
	client := newTestHarness(t, 0, nil)

	// Drive the stream by hand with an out-of-order packet.
	stream := client.stream
	ctx := context.Background()
	require.NoError(t, stream.Send(ctx, ipc.PacketAck, nil))

	p, err := stream.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, ipc.PacketFailure, p.Type)

	fail, err := ipc.UnmarshalFailure(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, CodeProtocol, fail.Code)

	// The executor keeps serving afterwards.
	res, err := client.Query(ctx, "SELECT count(*) FROM people")
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Rows[0][0].I64)
}

func TestFailureCodes(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: colbridge.ErrCancelled, want: CodeCancelled},
		{err: colbridge.ErrResourceExhausted, want: CodeResourceExhausted},
		{err: colbridge.ErrClosed, want: CodeShutdown},
		{err: fmt.Errorf("boom"), want: CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, failureCode(tt.err))
	}
}
