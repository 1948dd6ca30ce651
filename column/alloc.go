package column

import "context"

// Allocator supplies the fixed-width buffers backing vectors.
//
// The engine wires an arena-backed allocator so that all buffers of one
// execution share a single lifetime; tests and the transport decoder use
// HeapAllocator.
type Allocator interface {
	Int64s(ctx context.Context, capacity int) ([]int64, error)
	Float64s(ctx context.Context, capacity int) ([]float64, error)
	Bools(ctx context.Context, capacity int) ([]bool, error)
}

// HeapAllocator allocates vector buffers on the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Int64s(_ context.Context, capacity int) ([]int64, error) {
	return make([]int64, 0, capacity), nil
}

func (HeapAllocator) Float64s(_ context.Context, capacity int) ([]float64, error) {
	return make([]float64, 0, capacity), nil
}

func (HeapAllocator) Bools(_ context.Context, capacity int) ([]bool, error) {
	return make([]bool, 0, capacity), nil
}
