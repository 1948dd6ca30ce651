package engine

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/internal/arena"
)

// Context binds one query invocation to its cross-boundary resources: the
// arena holding every buffer produced during the execution, the query slot
// reserved from the resource controller, and the cancellation flag shared
// between the host side and the operator loops.
//
// Exactly one Context exists per invocation; batches and cursors produced
// under it must not outlive it. Close is idempotent and runs on every exit
// path - success, error, or cancellation.
type Context struct {
	id      uuid.UUID
	hostCtx context.Context
	rt      *Runtime
	arena   *arena.Arena

	cancelled atomic.Bool
	closed    atomic.Bool

	// checkDebt counts rows processed since the last cancellation check so
	// that long loops observe cancellation at a bounded interval, not only
	// at batch boundaries.
	checkDebt atomic.Int64
}

// ID returns the invocation id.
func (ec *Context) ID() uuid.UUID { return ec.id }

// Cancel raises the cooperative cancellation flag. It does not forcibly
// terminate in-flight work; operator loops observe the flag and stop within
// one check interval.
func (ec *Context) Cancel() {
	ec.cancelled.Store(true)
}

// Err reports the terminal cancellation state, folding host context
// cancellation into the cooperative flag at the boundary crossing point.
func (ec *Context) Err() error {
	if ec.cancelled.Load() {
		return ErrCancelled
	}
	if ec.hostCtx.Err() != nil {
		ec.cancelled.Store(true)
		return ErrCancelled
	}
	return nil
}

// checkpoint charges n processed rows against the check interval and
// observes cancellation once the interval is reached. The fast path is one
// atomic load when the flag is already raised.
func (ec *Context) checkpoint(n int) error {
	if ec.cancelled.Load() {
		return ErrCancelled
	}
	if ec.checkDebt.Add(int64(n)) < int64(ec.rt.cfg.CheckInterval) {
		return nil
	}
	ec.checkDebt.Store(0)
	return ec.Err()
}

// Close tears down the context: it raises the cancellation flag, waits for
// in-flight producers to acknowledge, frees the arena exactly once and
// releases the query slot. Safe to call multiple times.
func (ec *Context) Close() error {
	if ec.closed.Swap(true) {
		return nil
	}

	ec.cancelled.Store(true)

	// Free waits for outstanding borrows, so buffers still being produced
	// are never unmapped mid-write.
	ec.arena.Free()

	ec.rt.res.ReleaseQuerySlot()

	ec.rt.logger.Debug("execution context closed",
		"invocation", ec.id.String(),
	)
	return nil
}

// arenaAllocator adapts the context arena to the column allocator contract.
type arenaAllocator struct {
	a *arena.Arena
}

func (aa arenaAllocator) Int64s(ctx context.Context, capacity int) ([]int64, error) {
	return aa.a.AllocInt64Slice(ctx, capacity)
}

func (aa arenaAllocator) Float64s(ctx context.Context, capacity int) ([]float64, error) {
	return aa.a.AllocFloat64Slice(ctx, capacity)
}

func (aa arenaAllocator) Bools(ctx context.Context, capacity int) ([]bool, error) {
	return aa.a.AllocBoolSlice(ctx, capacity)
}

// Allocator returns the arena-backed vector allocator of this context.
func (ec *Context) Allocator() column.Allocator {
	return arenaAllocator{a: ec.arena}
}

// ArenaStats exposes arena usage for observability and leak tests.
func (ec *Context) ArenaStats() arena.Stats {
	return ec.arena.Stats()
}
