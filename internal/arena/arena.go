// Package arena provides the memory arena backing one query execution.
//
// # Concurrency Model
//
// Arena supports concurrent allocations but does NOT support a Free that is
// concurrent with allocations. The usage pattern is:
//   - Create one arena per execution context (never shared between contexts)
//   - Allocate batch buffers from operator goroutines (SAFE)
//   - Call Free() exactly once when the context closes; Free waits for
//     outstanding references before unmapping
//
// # Memory Management
//
// Memory is reserved in large chunks obtained via anonymous mmap, so batch
// buffers live off the Go heap and share a single lifetime: everything is
// returned to the OS together when the owning context is torn down. A
// MemoryAcquirer can be attached to charge every chunk against a budget;
// an exhausted budget surfaces as an allocation error, not an OOM.
package arena

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/colbridge/internal/conv"
	"github.com/hupe1980/colbridge/internal/mmap"
)

// MemoryAcquirer charges chunk reservations against an external budget.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrMaxChunksExceeded is returned when the arena exceeds the maximum number of chunks.
	ErrMaxChunksExceeded = errors.New("arena: max chunks exceeded")
	// ErrClosed is returned when allocating from a freed arena.
	ErrClosed = errors.New("arena: closed")
)

const (
	// DefaultChunkSize is the default size of a chunk (1MB).
	DefaultChunkSize = 1024 * 1024
	// DefaultAlignment is the default memory alignment (8 bytes).
	DefaultAlignment = 8
	// MaxChunks limits the number of chunks a single execution may hold.
	MaxChunks = 16384
)

// Stats tracks arena memory usage metrics.
type Stats struct {
	ChunksAllocated uint64 // Historical: total chunks ever created
	BytesReserved   uint64 // Current: total memory reserved from the OS
	BytesUsed       uint64 // Current: actual bytes requested by allocations
	ActiveChunks    uint64 // Current: active chunk count
	TotalAllocs     uint64 // Historical: total allocations
}

type atomicStats struct {
	ChunksAllocated atomic.Uint64
	BytesReserved   atomic.Uint64
	BytesUsed       atomic.Uint64
	ActiveChunks    atomic.Uint64
	TotalAllocs     atomic.Uint64
}

type chunk struct {
	data    []byte
	mapping *mmap.Mapping
	offset  atomic.Int64 // accessed concurrently without locks
}

// Arena is a chunked bump allocator for batch buffers.
type Arena struct {
	chunkSize  int
	alignment  int
	chunks     [MaxChunks]atomic.Pointer[chunk]
	chunkCount atomic.Uint32
	current    atomic.Pointer[chunk]
	mu         sync.Mutex
	stats      atomicStats
	refs       atomic.Int64 // outstanding borrowers, Free waits for zero
	freed      atomic.Bool
	acquirer   MemoryAcquirer
}

// Option is a configuration option for Arena.
type Option func(*Arena)

// WithMemoryAcquirer sets the memory acquirer for the arena.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// New creates a new Arena with the given chunk size.
//
// The first chunk is reserved eagerly so that budget exhaustion is reported
// at open time rather than mid-execution when possible.
func New(ctx context.Context, chunkSize int, opts ...Option) (*Arena, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	// Round up to the next power of 2 so offsets stay cheap to reason about.
	chunkSize = 1 << bits.Len(uint(chunkSize-1))

	a := &Arena{
		chunkSize: chunkSize,
		alignment: DefaultAlignment,
	}

	for _, opt := range opts {
		opt(a)
	}

	if err := a.allocateChunk(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// IncRef marks the arena as borrowed by an in-flight operation.
// Free blocks until every borrower has called DecRef.
func (a *Arena) IncRef() {
	a.refs.Add(1)
}

// DecRef releases a borrow taken with IncRef.
func (a *Arena) DecRef() {
	a.refs.Add(-1)
}

func (a *Arena) allocateChunk(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateChunkLocked(ctx)
}

func (a *Arena) allocateChunkLocked(ctx context.Context) error {
	idx := a.chunkCount.Load()
	if idx >= MaxChunks {
		return ErrMaxChunksExceeded
	}

	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(ctx, int64(a.chunkSize)); err != nil {
			return err
		}
	}

	// Off-heap anonymous mapping keeps batch buffers out of GC scans.
	mapping, err := mmap.MapAnon(a.chunkSize)
	if err != nil {
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(a.chunkSize))
		}
		return fmt.Errorf("failed to map anonymous memory for chunk: %w", err)
	}

	newChunk := &chunk{
		data:    mapping.Bytes(),
		mapping: mapping,
	}

	a.chunks[idx].Store(newChunk)

	a.stats.ChunksAllocated.Add(1)
	chunkSizeU64, _ := conv.IntToUint64(a.chunkSize)
	a.stats.BytesReserved.Add(chunkSizeU64)
	a.stats.ActiveChunks.Add(1)

	// Count must be visible before the chunk becomes current.
	a.chunkCount.Add(1)
	a.current.Store(newChunk)

	return nil
}

// AllocBytes allocates a byte slice of the given size from the arena.
func (a *Arena) AllocBytes(ctx context.Context, size int) ([]byte, error) {
	return a.alloc(ctx, size, a.alignment)
}

func (a *Arena) alloc(ctx context.Context, size int, align int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if size > a.chunkSize {
		return nil, fmt.Errorf("arena: allocation of %d bytes exceeds chunk size %d", size, a.chunkSize)
	}

	mask := align - 1
	alignedSize := (size + mask) & ^mask

	for {
		curr := a.current.Load()
		if curr == nil {
			return nil, ErrClosed
		}

		if data, ok := a.tryAllocInChunk(curr, size, alignedSize); ok {
			return data, nil
		}

		// Current chunk is full. Check whether someone else already moved on
		// before taking the lock.
		if a.current.Load() != curr {
			continue
		}

		a.mu.Lock()
		if a.current.Load() != curr {
			a.mu.Unlock()
			continue
		}
		if err := a.allocateChunkLocked(ctx); err != nil {
			a.mu.Unlock()
			return nil, err
		}
		a.mu.Unlock()
	}
}

func (a *Arena) tryAllocInChunk(curr *chunk, size, alignedSize int) ([]byte, bool) {
	oldOffset := curr.offset.Load()
	newOffset := oldOffset + int64(alignedSize)

	if newOffset > int64(len(curr.data)) {
		return nil, false
	}

	if !curr.offset.CompareAndSwap(oldOffset, newOffset) {
		return nil, false
	}

	sizeU64, _ := conv.IntToUint64(size)
	a.stats.BytesUsed.Add(sizeU64)
	a.stats.TotalAllocs.Add(1)

	return curr.data[oldOffset : oldOffset+int64(size) : newOffset], true
}

// AllocInt64Slice allocates an int64 slice of the given capacity, length zero.
func (a *Arena) AllocInt64Slice(ctx context.Context, capacity int) ([]int64, error) {
	if capacity <= 0 {
		return nil, nil
	}

	size := capacity * int(unsafe.Sizeof(int64(0)))
	b, err := a.alloc(ctx, size, int(unsafe.Alignof(int64(0))))
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*int64)(unsafe.Pointer(&b[0])), capacity)[:0:capacity], nil //nolint:gosec // unsafe is required for arena implementation
}

// AllocFloat64Slice allocates a float64 slice of the given capacity, length zero.
func (a *Arena) AllocFloat64Slice(ctx context.Context, capacity int) ([]float64, error) {
	if capacity <= 0 {
		return nil, nil
	}

	size := capacity * int(unsafe.Sizeof(float64(0)))
	b, err := a.alloc(ctx, size, int(unsafe.Alignof(float64(0))))
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), capacity)[:0:capacity], nil //nolint:gosec // unsafe is required for arena implementation
}

// AllocBoolSlice allocates a bool slice of the given capacity, length zero.
func (a *Arena) AllocBoolSlice(ctx context.Context, capacity int) ([]bool, error) {
	if capacity <= 0 {
		return nil, nil
	}

	b, err := a.alloc(ctx, capacity, 1)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*bool)(unsafe.Pointer(&b[0])), capacity)[:0:capacity], nil //nolint:gosec // unsafe is required for arena implementation
}

// Stats returns the current arena statistics.
func (a *Arena) Stats() Stats {
	return Stats{
		ChunksAllocated: a.stats.ChunksAllocated.Load(),
		BytesReserved:   a.stats.BytesReserved.Load(),
		BytesUsed:       a.stats.BytesUsed.Load(),
		ActiveChunks:    a.stats.ActiveChunks.Load(),
		TotalAllocs:     a.stats.TotalAllocs.Load(),
	}
}

// Free releases all arena memory back to the OS. It is idempotent.
//
// Free waits for outstanding IncRef borrowers before unmapping, so a batch
// that is still being produced cannot be pulled out from under the producer.
// All slices allocated from this arena become invalid after Free.
func (a *Arena) Free() {
	if a.freed.Swap(true) {
		return
	}

	// Wait for in-flight borrowers to acknowledge.
	for a.refs.Load() > 0 {
		runtime.Gosched()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.acquirer != nil {
		bytesReserved := a.stats.BytesReserved.Load()
		if bytesReserved > 0 {
			a.acquirer.ReleaseMemory(int64(bytesReserved))
		}
	}

	count := a.chunkCount.Load()
	countInt, _ := conv.Uint32ToInt(count)
	for i := 0; i < countInt; i++ {
		c := a.chunks[i].Load()
		if c != nil && c.mapping != nil {
			_ = c.mapping.Close()
		}
		a.chunks[i].Store(nil)
	}
	a.chunkCount.Store(0)
	a.current.Store(nil)

	a.stats.ActiveChunks.Store(0)
	a.stats.BytesReserved.Store(0)
	a.stats.BytesUsed.Store(0)
}

func (a *Arena) String() string {
	stats := a.Stats()
	return fmt.Sprintf(
		"Arena{chunks: %d, reserved: %.2f MB, used: %.2f MB, allocs: %d}",
		stats.ActiveChunks,
		float64(stats.BytesReserved)/(1024*1024),
		float64(stats.BytesUsed)/(1024*1024),
		stats.TotalAllocs,
	)
}
