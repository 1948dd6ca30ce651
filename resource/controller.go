// Package resource enforces the memory and concurrency budgets handed to the
// bridge by the host. The controller is process-wide: every execution context
// charges its arena chunks here, and the slot transport rate-limits its
// traffic here.
package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when the memory budget would be exceeded.
//
// This is deliberately a fail-fast error rather than a blocking wait: the
// caller decides whether to retry with a smaller batch size or fall back to
// host-side execution.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for arena-managed memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxConcurrentQueries is the maximum number of concurrently open
	// execution contexts. If 0, defaults to 1.
	MaxConcurrentQueries int64

	// TransferLimitBytesPerSec is the maximum throughput for slot transport
	// traffic in detached execution mode. If 0, unlimited.
	TransferLimitBytesPerSec int64
}

// Controller manages the global budgets (memory, query slots, transfer).
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Concurrency
	querySem *semaphore.Weighted

	// Transfer
	transferLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentQueries <= 0 {
		cfg.MaxConcurrentQueries = 1
	}

	c := &Controller{
		cfg:      cfg,
		querySem: semaphore.NewWeighted(cfg.MaxConcurrentQueries),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.TransferLimitBytesPerSec > 0 {
		c.transferLimiter = rate.NewLimiter(rate.Limit(cfg.TransferLimitBytesPerSec), int(cfg.TransferLimitBytesPerSec))
	}

	return c
}

// AcquireMemory attempts to reserve memory against the budget.
// Returns ErrMemoryLimitExceeded if the limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(_ context.Context, bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireQuerySlot reserves a slot for one execution context.
// Blocks until a slot is free or ctx is canceled.
func (c *Controller) AcquireQuerySlot(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.querySem.Acquire(ctx, 1)
}

// TryAcquireQuerySlot reserves a query slot without blocking.
func (c *Controller) TryAcquireQuerySlot() bool {
	if c == nil {
		return true
	}
	return c.querySem.TryAcquire(1)
}

// ReleaseQuerySlot releases a query slot.
func (c *Controller) ReleaseQuerySlot() {
	if c == nil {
		return
	}
	c.querySem.Release(1)
}

// AcquireTransfer waits until the transfer limit allows the specified number of bytes.
func (c *Controller) AcquireTransfer(ctx context.Context, bytes int) error {
	if c == nil || c.transferLimiter == nil {
		return nil
	}
	return c.transferLimiter.WaitN(ctx, bytes)
}

// TryAcquireTransfer attempts to acquire transfer tokens without blocking.
func (c *Controller) TryAcquireTransfer(bytes int) bool {
	if c == nil || c.transferLimiter == nil {
		return true
	}
	return c.transferLimiter.AllowN(time.Now(), bytes)
}
