// Package ipc implements the fixed-slot transport used by detached
// execution: two preallocated buffers, one per direction, over which the
// backend side and the worker side exchange msgpack-framed packets.
//
// A slot holds exactly one frame. Control packets must fit a single slot;
// only batch payloads are chunked, with explicit per-chunk acknowledgement
// so a slow consumer back-pressures the producer instead of losing frames.
package ipc

import (
	"context"

	"github.com/hupe1980/colbridge/ipc/compress"
	"github.com/hupe1980/colbridge/resource"
)

// DefaultSlotSize is the default per-direction slot capacity.
const DefaultSlotSize = 64 * 1024

// slot is a single-frame handoff buffer. One writer, one reader; the free
// token guarantees the writer never overwrites an unread frame.
type slot struct {
	buf  []byte
	full chan int
	free chan struct{}
}

func newSlot(size int) *slot {
	s := &slot{
		buf:  make([]byte, size),
		full: make(chan int, 1),
		free: make(chan struct{}, 1),
	}
	s.free <- struct{}{}
	return s
}

func (s *slot) write(ctx context.Context, frame []byte) error {
	select {
	case <-s.free:
	case <-ctx.Done():
		return ctx.Err()
	}
	n := copy(s.buf, frame)
	s.full <- n
	return nil
}

func (s *slot) read(ctx context.Context) ([]byte, error) {
	var n int
	select {
	case n = <-s.full:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	frame := make([]byte, n)
	copy(frame, s.buf[:n])
	s.free <- struct{}{}
	return frame, nil
}

// Bus is one backend/worker slot pair.
type Bus struct {
	slotSize  int
	toWorker  *slot
	toBackend *slot
	res       *resource.Controller
	codec     compress.Codec
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithTransferController rate-limits transport traffic through the given
// resource controller's transfer budget.
func WithTransferController(c *resource.Controller) BusOption {
	return func(b *Bus) {
		b.res = c
	}
}

// WithCodec sets the codec applied to chunked payloads.
func WithCodec(codec compress.Codec) BusOption {
	return func(b *Bus) {
		if codec != nil {
			b.codec = codec
		}
	}
}

// NewBus creates a bus with the given slot size (DefaultSlotSize if <= 0).
func NewBus(slotSize int, opts ...BusOption) *Bus {
	if slotSize <= 0 {
		slotSize = DefaultSlotSize
	}
	b := &Bus{
		slotSize:  slotSize,
		toWorker:  newSlot(slotSize),
		toBackend: newSlot(slotSize),
		codec:     compress.None{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SlotSize returns the per-direction slot capacity.
func (b *Bus) SlotSize() int { return b.slotSize }

// BackendStream returns the backend's view: writes go to the worker.
func (b *Bus) BackendStream() *SlotStream {
	return &SlotStream{in: b.toBackend, out: b.toWorker, max: b.slotSize - headerSize, res: b.res, codec: b.codec}
}

// WorkerStream returns the worker's view: writes go to the backend.
func (b *Bus) WorkerStream() *SlotStream {
	return &SlotStream{in: b.toWorker, out: b.toBackend, max: b.slotSize - headerSize, res: b.res, codec: b.codec}
}

// SlotStream is one side's sequential view of the bus.
//
// A stream is not safe for concurrent use; the protocol is strictly
// request/response and each side drives it from one goroutine.
type SlotStream struct {
	in    *slot
	out   *slot
	max   int
	res   *resource.Controller
	codec compress.Codec
}

// CodecName returns the wire name of the codec applied to chunked payloads.
func (st *SlotStream) CodecName() string {
	if st.codec == nil {
		return "none"
	}
	return st.codec.Name()
}
