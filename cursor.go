package colbridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/engine"
	"github.com/hupe1980/colbridge/schema"
)

// Cursor streams the rows of one invocation back to the host.
//
// A cursor is single-consumer: Next and Row must be called from one
// goroutine. Cancel, Close and Err may be called from any goroutine; that
// is how the host's signal handler interrupts a running query.
//
// The row returned by Row borrows cursor-internal buffers and is valid only
// until the next call to Next.
type Cursor struct {
	ec      *engine.Context
	prod    *engine.BatchProducer
	schema  schema.LogicalSchema
	logger  *Logger
	metrics MetricsCollector
	start   time.Time

	mu    sync.Mutex
	batch *column.Batch
	idx   int
	row   column.Row
	rows  int64
	err   error
	done  bool
}

// Schema returns the output schema of the invocation.
func (c *Cursor) Schema() schema.LogicalSchema { return c.schema }

// Next advances to the following row. It returns false when the stream is
// exhausted or failed; Err distinguishes the two. After false the cursor
// has already released its engine resources, Close remains safe.
func (c *Cursor) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return false
	}

	if c.batch == nil || c.idx >= c.batch.Len() {
		b, err := c.prod.Next()
		if err != nil {
			c.finish(translateError(err))
			return false
		}
		if b == nil {
			c.finish(nil)
			return false
		}
		c.batch = b
		c.idx = 0
	}

	c.row = c.batch.Row(c.idx, c.row)
	c.idx++
	c.rows++
	return true
}

// Row returns the current row. Valid only after Next returned true and only
// until the next call to Next.
func (c *Cursor) Row() column.Row { return c.row }

// Err returns the terminal error, nil after normal exhaustion or before the
// stream ended.
func (c *Cursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Cancel requests cooperative cancellation. The running operators observe
// it within one check interval; the consumer then sees Next return false
// with Err reporting ErrCancelled.
func (c *Cursor) Cancel() { c.ec.Cancel() }

// Close releases the invocation's resources. It is idempotent and safe
// after exhaustion, failure, or a prior Close. An early Close of a
// still-streaming cursor counts as cancellation.
func (c *Cursor) Close() error {
	// Cancel before taking the lock: a concurrent Next blocked in batch
	// production observes the flag within one check interval and releases
	// the mutex, bounding how long Close waits.
	c.ec.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finish(translateError(engine.ErrCancelled))
		// Early termination by the owner is not an error.
		c.err = nil
	}
	return nil
}

// finish latches the terminal state, closes the execution context and
// reports metrics exactly once. The caller holds mu.
func (c *Cursor) finish(err error) {
	if c.done {
		return
	}
	c.done = true
	c.err = err
	c.batch = nil

	c.prod.Close()
	// Context close waits for in-flight production before unmapping arena
	// memory. The current row is unaffected: Row hands out copied cells,
	// not arena pointers.
	c.ec.Close()

	elapsed := time.Since(c.start)
	c.metrics.RecordExecute(c.rows, elapsed, err)
	if errors.Is(err, ErrCancelled) {
		c.metrics.RecordCancel()
		c.logger.LogCancel(context.Background(), c.rows)
		return
	}
	c.logger.LogExecute(context.Background(), c.rows, elapsed, err)
}
