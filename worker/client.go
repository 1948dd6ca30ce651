package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/ipc"
	"github.com/hupe1980/colbridge/schema"
)

// QueryError is a failure reported by the executor.
type QueryError struct {
	Code    string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("worker failure %s: %s", e.Code, e.Message)
}

// IsNotSupported reports whether the executor rejected the query as
// untranslatable, meaning the host should run it itself.
func (e *QueryError) IsNotSupported() bool { return e.Code == CodeNotSupported }

// Result is a fully drained invocation.
type Result struct {
	Invocation string
	Codec      string
	Schema     schema.LogicalSchema
	Rows       []column.Row
}

// Client drives invocations from the backend side of a bus.
//
// A client is not safe for concurrent use; the slot protocol is strictly
// one invocation at a time.
type Client struct {
	stream *ipc.SlotStream
}

// NewClient creates a client over the backend side of a bus.
func NewClient(stream *ipc.SlotStream) *Client {
	return &Client{stream: stream}
}

// Query runs one SQL invocation and drains all result rows.
func (c *Client) Query(ctx context.Context, sql string) (*Result, error) {
	req := ipc.ParseRequest{Invocation: uuid.NewString(), SQL: sql}
	if err := c.stream.Send(ctx, ipc.PacketParse, req.MarshalMsg()); err != nil {
		return nil, err
	}

	res := &Result{Invocation: req.Invocation}

	p, err := c.stream.Receive(ctx)
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case ipc.PacketBind:
		bind, err := ipc.UnmarshalBindResponse(p.Payload)
		if err != nil {
			return nil, err
		}
		if bind.Invocation != req.Invocation {
			return nil, fmt.Errorf("%w: bind for invocation %q, expected %q", ipc.ErrProtocol, bind.Invocation, req.Invocation)
		}
		res.Codec = bind.Codec
	case ipc.PacketFailure:
		return nil, failureError(p.Payload)
	default:
		return nil, fmt.Errorf("%w: expected bind, got %s", ipc.ErrProtocol, p.Type)
	}

	p, err = c.stream.Receive(ctx)
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case ipc.PacketMetadata:
		if res.Schema, err = ipc.UnmarshalSchema(p.Payload); err != nil {
			return nil, err
		}
	case ipc.PacketFailure:
		return nil, failureError(p.Payload)
	default:
		return nil, fmt.Errorf("%w: expected metadata, got %s", ipc.ErrProtocol, p.Type)
	}

	for {
		p, err := c.stream.ReceiveChunked(ctx)
		if err != nil {
			return nil, err
		}
		switch p.Type {
		case ipc.PacketBatch:
			rows, err := ipc.UnmarshalRows(p.Payload, res.Schema)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return res, nil
			}
			res.Rows = append(res.Rows, rows...)
		case ipc.PacketFailure:
			return nil, failureError(p.Payload)
		default:
			return nil, fmt.Errorf("%w: expected batch, got %s", ipc.ErrProtocol, p.Type)
		}
	}
}

func failureError(payload []byte) error {
	fail, err := ipc.UnmarshalFailure(payload)
	if err != nil {
		return err
	}
	return &QueryError{Code: fail.Code, Message: fail.Message}
}
