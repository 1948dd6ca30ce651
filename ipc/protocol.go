package ipc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// PacketType identifies one packet kind on the wire.
type PacketType uint8

const (
	// PacketAck acknowledges a received chunk.
	PacketAck PacketType = iota
	// PacketParse carries the SQL text of a new invocation.
	PacketParse
	// PacketBind confirms an invocation and negotiates the payload codec.
	PacketBind
	// PacketMetadata carries the result schema.
	PacketMetadata
	// PacketBatch carries encoded result rows.
	PacketBatch
	// PacketFailure aborts the invocation with an error.
	PacketFailure
)

func (t PacketType) String() string {
	switch t {
	case PacketAck:
		return "ack"
	case PacketParse:
		return "parse"
	case PacketBind:
		return "bind"
	case PacketMetadata:
		return "metadata"
	case PacketBatch:
		return "batch"
	case PacketFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Flag is a packet header flag.
type Flag uint8

const (
	// FlagMore marks a chunk with more chunks following.
	FlagMore Flag = 1 << iota
	// FlagLast marks the final chunk of a payload.
	FlagLast
	// FlagCompressed marks a payload encoded with the bus codec.
	FlagCompressed
)

var (
	// ErrPayloadTooLarge is returned when a control packet does not fit one
	// slot. Control packets are never chunked; the slot size bounds them.
	ErrPayloadTooLarge = errors.New("ipc: payload exceeds slot size")

	// ErrProtocol is returned on a malformed or out-of-order frame.
	ErrProtocol = errors.New("ipc: protocol violation")
)

// headerSize is the fixed frame header width: a three-element msgpack array
// of packet type, flags, and payload length. The length is written as a
// full-width uint16 even when a shorter encoding exists, so the header can
// be patched in place after the payload is sized.
const headerSize = 6

// Packet is one received frame.
type Packet struct {
	Type    PacketType
	Flags   Flag
	Payload []byte
}

func putHeader(dst []byte, typ PacketType, flags Flag, n int) {
	dst[0] = 0x93 // fixarray(3)
	dst[1] = byte(typ)
	dst[2] = byte(flags)
	dst[3] = 0xcd // uint16
	binary.BigEndian.PutUint16(dst[4:6], uint16(n))
}

func parseHeader(frame []byte) (PacketType, Flag, int, error) {
	if len(frame) < headerSize {
		return 0, 0, 0, fmt.Errorf("%w: short frame (%d bytes)", ErrProtocol, len(frame))
	}
	sz, rest, err := msgp.ReadArrayHeaderBytes(frame)
	if err != nil || sz != 3 {
		return 0, 0, 0, fmt.Errorf("%w: bad frame header", ErrProtocol)
	}
	typ, rest, err := msgp.ReadUint8Bytes(rest)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: bad packet type", ErrProtocol)
	}
	flags, rest, err := msgp.ReadUint8Bytes(rest)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: bad flags", ErrProtocol)
	}
	n, _, err := msgp.ReadUint16Bytes(rest)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: bad length", ErrProtocol)
	}
	return PacketType(typ), Flag(flags), int(n), nil
}

// Send transmits one unchunked packet. The payload must fit the slot;
// control packets that do not are a caller bug surfaced as
// ErrPayloadTooLarge before anything is written.
func (st *SlotStream) Send(ctx context.Context, typ PacketType, payload []byte) error {
	return st.sendFrame(ctx, typ, FlagLast, payload)
}

func (st *SlotStream) sendFrame(ctx context.Context, typ PacketType, flags Flag, payload []byte) error {
	if len(payload) > st.max {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), st.max)
	}

	frame := make([]byte, headerSize+len(payload))
	putHeader(frame, typ, flags, len(payload))
	copy(frame[headerSize:], payload)

	if err := st.res.AcquireTransfer(ctx, len(frame)); err != nil {
		return err
	}
	return st.out.write(ctx, frame)
}

// Receive reads one frame.
func (st *SlotStream) Receive(ctx context.Context) (Packet, error) {
	frame, err := st.in.read(ctx)
	if err != nil {
		return Packet{}, err
	}
	typ, flags, n, err := parseHeader(frame)
	if err != nil {
		return Packet{}, err
	}
	if len(frame) < headerSize+n {
		return Packet{}, fmt.Errorf("%w: truncated payload", ErrProtocol)
	}
	return Packet{Type: typ, Flags: flags, Payload: frame[headerSize : headerSize+n]}, nil
}

// SendChunked transmits a payload of any size, splitting it into slot-sized
// chunks. After every non-final chunk the peer must acknowledge before the
// next one is written, so the slot is never clobbered.
func (st *SlotStream) SendChunked(ctx context.Context, typ PacketType, payload []byte) error {
	flags := Flag(0)
	if st.codec != nil && st.codec.Name() != "none" {
		enc, err := st.codec.Compress(payload)
		if err != nil {
			return err
		}
		payload = enc
		flags |= FlagCompressed
	}

	for {
		chunk := payload
		if len(chunk) > st.max {
			chunk = payload[:st.max]
		}
		payload = payload[len(chunk):]

		chunkFlags := flags | FlagLast
		if len(payload) > 0 {
			chunkFlags = flags | FlagMore
		}
		if err := st.sendFrame(ctx, typ, chunkFlags, chunk); err != nil {
			return err
		}
		if len(payload) == 0 {
			return nil
		}

		ack, err := st.Receive(ctx)
		if err != nil {
			return err
		}
		if ack.Type != PacketAck {
			return fmt.Errorf("%w: expected ack, got %s", ErrProtocol, ack.Type)
		}
	}
}

// ReceiveChunked reads a complete payload, acknowledging intermediate
// chunks and reassembling them.
func (st *SlotStream) ReceiveChunked(ctx context.Context) (Packet, error) {
	var (
		assembled []byte
		typ       PacketType
		flags     Flag
	)
	for first := true; ; first = false {
		p, err := st.Receive(ctx)
		if err != nil {
			return Packet{}, err
		}
		if first {
			typ = p.Type
			flags = p.Flags
		} else if p.Type != typ {
			return Packet{}, fmt.Errorf("%w: chunk type changed from %s to %s", ErrProtocol, typ, p.Type)
		}

		assembled = append(assembled, p.Payload...)

		if p.Flags&FlagMore == 0 {
			break
		}
		if err := st.Send(ctx, PacketAck, nil); err != nil {
			return Packet{}, err
		}
	}

	if flags&FlagCompressed != 0 {
		dec, err := st.codec.Decompress(assembled)
		if err != nil {
			return Packet{}, err
		}
		assembled = dec
	}
	return Packet{Type: typ, Flags: flags, Payload: assembled}, nil
}

// ParseRequest opens an invocation with its SQL text.
type ParseRequest struct {
	Invocation string
	SQL        string
}

// MarshalMsg encodes the request.
func (r ParseRequest) MarshalMsg() []byte {
	b := msgp.AppendArrayHeader(nil, 2)
	b = msgp.AppendString(b, r.Invocation)
	b = msgp.AppendString(b, r.SQL)
	return b
}

// UnmarshalParseRequest decodes a ParseRequest payload.
func UnmarshalParseRequest(payload []byte) (ParseRequest, error) {
	var r ParseRequest
	sz, rest, err := msgp.ReadArrayHeaderBytes(payload)
	if err != nil || sz != 2 {
		return r, fmt.Errorf("%w: bad parse request", ErrProtocol)
	}
	if r.Invocation, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return r, fmt.Errorf("%w: bad invocation id", ErrProtocol)
	}
	if r.SQL, _, err = msgp.ReadStringBytes(rest); err != nil {
		return r, fmt.Errorf("%w: bad sql text", ErrProtocol)
	}
	return r, nil
}

// BindResponse confirms an invocation and names the payload codec the
// worker will use for batches.
type BindResponse struct {
	Invocation string
	Codec      string
}

// MarshalMsg encodes the response.
func (r BindResponse) MarshalMsg() []byte {
	b := msgp.AppendArrayHeader(nil, 2)
	b = msgp.AppendString(b, r.Invocation)
	b = msgp.AppendString(b, r.Codec)
	return b
}

// UnmarshalBindResponse decodes a BindResponse payload.
func UnmarshalBindResponse(payload []byte) (BindResponse, error) {
	var r BindResponse
	sz, rest, err := msgp.ReadArrayHeaderBytes(payload)
	if err != nil || sz != 2 {
		return r, fmt.Errorf("%w: bad bind response", ErrProtocol)
	}
	if r.Invocation, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return r, fmt.Errorf("%w: bad invocation id", ErrProtocol)
	}
	if r.Codec, _, err = msgp.ReadStringBytes(rest); err != nil {
		return r, fmt.Errorf("%w: bad codec name", ErrProtocol)
	}
	return r, nil
}

// Failure aborts an invocation.
type Failure struct {
	Code    string
	Message string
}

// MarshalMsg encodes the failure.
func (f Failure) MarshalMsg() []byte {
	b := msgp.AppendArrayHeader(nil, 2)
	b = msgp.AppendString(b, f.Code)
	b = msgp.AppendString(b, f.Message)
	return b
}

// UnmarshalFailure decodes a Failure payload.
func UnmarshalFailure(payload []byte) (Failure, error) {
	var f Failure
	sz, rest, err := msgp.ReadArrayHeaderBytes(payload)
	if err != nil || sz != 2 {
		return f, fmt.Errorf("%w: bad failure packet", ErrProtocol)
	}
	if f.Code, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return f, fmt.Errorf("%w: bad failure code", ErrProtocol)
	}
	if f.Message, _, err = msgp.ReadStringBytes(rest); err != nil {
		return f, fmt.Errorf("%w: bad failure message", ErrProtocol)
	}
	return f, nil
}
