// Package engine drives the embedded vectorized engine: it owns the
// process-wide runtime (worker pool, resource budgets), opens per-query
// execution contexts and produces result batches for translated plans.
//
// The runtime holds no per-query state. Everything belonging to one
// invocation lives in its Context and dies with it.
package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hupe1980/colbridge/internal/arena"
	"github.com/hupe1980/colbridge/resource"
)

const (
	// DefaultBatchSize is the default number of rows per batch.
	DefaultBatchSize = 1024
	// DefaultCheckInterval is the default number of rows between
	// cancellation checks inside operator loops.
	DefaultCheckInterval = 1024
	// DefaultParallelThreshold is the minimum batch size before predicate
	// evaluation fans out to the worker pool.
	DefaultParallelThreshold = 4096
)

// Config holds runtime configuration.
type Config struct {
	// BatchSize is the maximum number of rows per produced batch.
	// If 0, DefaultBatchSize is used.
	BatchSize int

	// CheckInterval is the number of rows between cancellation checks.
	// If 0, DefaultCheckInterval is used.
	CheckInterval int

	// ParallelThreshold is the minimum number of rows in a batch before
	// segment evaluation is parallelized. If 0, DefaultParallelThreshold.
	ParallelThreshold int

	// MemoryLimitBytes caps arena memory across all concurrent queries.
	// If 0, unlimited.
	MemoryLimitBytes int64

	// MaxConcurrentQueries caps concurrently open contexts. If 0, 1.
	MaxConcurrentQueries int64

	// Workers sizes the worker pool. If 0, GOMAXPROCS.
	Workers int

	// ArenaChunkSize overrides the arena chunk size (testing knob).
	ArenaChunkSize int
}

// Option configures the Runtime.
type Option func(*Runtime)

// WithConfig replaces the runtime configuration.
func WithConfig(cfg Config) Option {
	return func(rt *Runtime) {
		rt.cfg = cfg
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// Runtime is the process-wide embedded engine instance.
//
// Create one per process (or per test), share it across queries, and close
// it at process exit. Per-query state never lives here.
type Runtime struct {
	cfg      Config
	provider TableProvider
	res      *resource.Controller
	pool     *WorkerPool
	logger   *slog.Logger
	closed   atomic.Bool
}

// NewRuntime creates a runtime around a table provider.
func NewRuntime(provider TableProvider, opts ...Option) *Runtime {
	rt := &Runtime{
		provider: provider,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(rt)
	}

	if rt.cfg.BatchSize <= 0 {
		rt.cfg.BatchSize = DefaultBatchSize
	}
	if rt.cfg.CheckInterval <= 0 {
		rt.cfg.CheckInterval = DefaultCheckInterval
	}
	if rt.cfg.ParallelThreshold <= 0 {
		rt.cfg.ParallelThreshold = DefaultParallelThreshold
	}

	rt.res = resource.NewController(resource.Config{
		MemoryLimitBytes:     rt.cfg.MemoryLimitBytes,
		MaxConcurrentQueries: rt.cfg.MaxConcurrentQueries,
	})
	rt.pool = NewWorkerPool(rt.cfg.Workers)

	return rt
}

// Resources returns the runtime's resource controller.
func (rt *Runtime) Resources() *resource.Controller { return rt.res }

// BatchSize returns the configured batch size.
func (rt *Runtime) BatchSize() int { return rt.cfg.BatchSize }

// OpenContext opens the execution context for one invocation. The caller
// owns the context and must Close it on every exit path.
func (rt *Runtime) OpenContext(ctx context.Context) (*Context, error) {
	if rt.closed.Load() {
		return nil, ErrRuntimeClosed
	}

	if err := rt.res.AcquireQuerySlot(ctx); err != nil {
		return nil, err
	}

	a, err := arena.New(ctx, rt.cfg.ArenaChunkSize, arena.WithMemoryAcquirer(rt.res))
	if err != nil {
		rt.res.ReleaseQuerySlot()
		return nil, err
	}

	ec := &Context{
		id:      uuid.New(),
		hostCtx: ctx,
		rt:      rt,
		arena:   a,
	}

	rt.logger.Debug("execution context opened",
		"invocation", ec.id.String(),
	)
	return ec, nil
}

// Start begins batch production for a translated plan within a context.
// Operator construction allocates no batch memory; the first allocation
// happens on the first Next call.
func (rt *Runtime) Start(p *Plan, ec *Context) (*BatchProducer, error) {
	if rt.closed.Load() {
		return nil, ErrRuntimeClosed
	}

	op, err := rt.buildOperator(p.Root, ec)
	if err != nil {
		return nil, err
	}

	return &BatchProducer{ec: ec, op: op}, nil
}

// buildOperator assembles the operator tree for a physical plan node.
func (rt *Runtime) buildOperator(n Node, ec *Context) (operator, error) {
	switch node := n.(type) {
	case *ScanNode:
		table, err := rt.provider.Table(node.Table)
		if err != nil {
			return nil, err
		}
		return newScanOp(table, node.Out), nil
	case *FilterNode:
		input, err := rt.buildOperator(node.Input, ec)
		if err != nil {
			return nil, err
		}
		return newFilterOp(input, node.Pred, rt), nil
	case *ProjectNode:
		input, err := rt.buildOperator(node.Input, ec)
		if err != nil {
			return nil, err
		}
		return newProjectOp(input, node.Exprs, node.Out), nil
	case *AggregateNode:
		input, err := rt.buildOperator(node.Input, ec)
		if err != nil {
			return nil, err
		}
		return newAggOp(input, node.GroupBy, node.Aggs, node.Out), nil
	case *SortNode:
		input, err := rt.buildOperator(node.Input, ec)
		if err != nil {
			return nil, err
		}
		return newSortOp(input, node.Keys), nil
	case *LimitNode:
		input, err := rt.buildOperator(node.Input, ec)
		if err != nil {
			return nil, err
		}
		return newLimitOp(input, node.Count), nil
	default:
		return nil, execErrorf("build", "unknown plan node %T", n)
	}
}

// Close shuts the runtime down. It is idempotent. Open contexts must be
// closed by their owners first; Close does not chase them.
func (rt *Runtime) Close() {
	if rt.closed.Swap(true) {
		return
	}
	rt.pool.Close()
}

// invocationAttr is a slog helper shared by the operator loops.
func invocationAttr(id uuid.UUID) slog.Attr {
	return slog.String("invocation", id.String())
}
