// Package worker runs query execution detached from the host session.
//
// The Executor owns a bridge and serves invocations arriving over a slot
// bus: each Parse packet is answered with a Bind, then either a Metadata
// packet followed by chunked Batch packets, or a Failure. The Client is the
// backend-side counterpart that drives one invocation at a time.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/colbridge"
	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/ipc"
)

// DefaultBatchRows is the number of rows encoded into one Batch packet.
const DefaultBatchRows = 256

// Failure codes, following the SQLSTATE convention of the host.
const (
	CodeCancelled         = "57014"
	CodeNotSupported      = "0A000"
	CodeResourceExhausted = "53200"
	CodeShutdown          = "57P01"
	CodeInternal          = "XX000"
	CodeProtocol          = "08P01"
)

// Executor serves invocations from the worker side of a bus.
type Executor struct {
	bridge    *colbridge.Bridge
	stream    *ipc.SlotStream
	batchRows int
	logger    *colbridge.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBatchRows sets the rows-per-Batch-packet count.
func WithBatchRows(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.batchRows = n
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *colbridge.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor over the given bridge and stream.
func NewExecutor(bridge *colbridge.Bridge, stream *ipc.SlotStream, opts ...ExecutorOption) *Executor {
	e := &Executor{
		bridge:    bridge,
		stream:    stream,
		batchRows: DefaultBatchRows,
		logger:    colbridge.NoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Serve handles invocations until ctx is cancelled or the stream fails.
// Invocations are strictly sequential; the slot protocol admits no
// interleaving.
func (e *Executor) Serve(ctx context.Context) error {
	for {
		p, err := e.stream.Receive(ctx)
		if err != nil {
			return err
		}
		if p.Type != ipc.PacketParse {
			fail := ipc.Failure{Code: CodeProtocol, Message: fmt.Sprintf("expected parse, got %s", p.Type)}
			if err := e.stream.Send(ctx, ipc.PacketFailure, fail.MarshalMsg()); err != nil {
				return err
			}
			continue
		}

		req, err := ipc.UnmarshalParseRequest(p.Payload)
		if err != nil {
			fail := ipc.Failure{Code: CodeProtocol, Message: err.Error()}
			if err := e.stream.Send(ctx, ipc.PacketFailure, fail.MarshalMsg()); err != nil {
				return err
			}
			continue
		}

		if err := e.serveInvocation(ctx, req); err != nil {
			return err
		}
	}
}

// serveInvocation runs one query end to end. A returned error is a
// transport failure; query failures go to the peer as Failure packets.
func (e *Executor) serveInvocation(ctx context.Context, req ipc.ParseRequest) error {
	logger := e.logger.WithInvocation(req.Invocation)

	bind := ipc.BindResponse{Invocation: req.Invocation, Codec: e.stream.CodecName()}
	if err := e.stream.Send(ctx, ipc.PacketBind, bind.MarshalMsg()); err != nil {
		return err
	}

	cur, err := e.bridge.ExecuteSQL(ctx, req.SQL)
	if err != nil {
		logger.LogTranslate(ctx, err)
		return e.sendFailure(ctx, err)
	}
	defer func() { _ = cur.Close() }()

	if err := e.stream.Send(ctx, ipc.PacketMetadata, ipc.MarshalSchema(cur.Schema())); err != nil {
		return err
	}

	chunk := make([]column.Row, 0, e.batchRows)
	for cur.Next() {
		// The cursor reuses its row buffer between calls.
		row := make(column.Row, len(cur.Row()))
		copy(row, cur.Row())
		chunk = append(chunk, row)

		if len(chunk) == e.batchRows {
			if err := e.stream.SendChunked(ctx, ipc.PacketBatch, ipc.MarshalRows(chunk)); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
	}
	if cur.Err() != nil {
		return e.sendFailure(ctx, cur.Err())
	}

	if len(chunk) > 0 {
		if err := e.stream.SendChunked(ctx, ipc.PacketBatch, ipc.MarshalRows(chunk)); err != nil {
			return err
		}
	}
	// An empty batch terminates the stream.
	return e.stream.SendChunked(ctx, ipc.PacketBatch, ipc.MarshalRows(nil))
}

func (e *Executor) sendFailure(ctx context.Context, cause error) error {
	fail := ipc.Failure{Code: failureCode(cause), Message: cause.Error()}
	return e.stream.Send(ctx, ipc.PacketFailure, fail.MarshalMsg())
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, colbridge.ErrCancelled):
		return CodeCancelled
	case errors.Is(err, colbridge.ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, colbridge.ErrClosed):
		return CodeShutdown
	case colbridge.IsFallback(err):
		return CodeNotSupported
	default:
		return CodeInternal
	}
}
