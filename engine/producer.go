package engine

import (
	"sync"

	"github.com/hupe1980/colbridge/column"
)

// BatchProducer drives one started plan. The consumer pulls batches with
// Next until it returns (nil, nil); every error it returns is terminal and
// latched, so repeated calls after a failure keep reporting the same error
// instead of resuming half-torn execution.
//
// The producer borrows the context arena for the duration of each Next
// call, so a concurrent Context.Close waits for the in-flight batch rather
// than unmapping memory under it.
type BatchProducer struct {
	ec *Context
	op operator

	mu     sync.Mutex
	opened bool
	done   bool
	err    error
}

// Next produces the following batch. It returns (nil, nil) once the plan is
// exhausted and (nil, err) on failure; both states are terminal. The
// context owner still closes the Context afterwards; the producer never
// frees memory itself.
func (p *BatchProducer) Next() (*column.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	if p.done {
		return nil, nil
	}

	if err := p.ec.Err(); err != nil {
		return p.fail(err)
	}

	p.ec.arena.IncRef()
	defer p.ec.arena.DecRef()

	if !p.opened {
		if err := p.op.open(p.ec); err != nil {
			return p.fail(err)
		}
		p.opened = true
	}

	b, err := p.op.next(p.ec)
	if err != nil {
		// Cancellation takes precedence: an operator that failed only
		// because it was torn down mid-flight reports the cancellation,
		// not the secondary fault.
		if cerr := p.ec.Err(); cerr != nil {
			err = cerr
		}
		return p.fail(err)
	}
	if b == nil {
		p.done = true
		p.op.close()
		return nil, nil
	}
	return b, nil
}

// fail latches the terminal error and closes the operator tree. Callers
// must hold p.mu.
func (p *BatchProducer) fail(err error) (*column.Batch, error) {
	p.err = err
	p.done = true
	p.op.close()
	return nil, err
}

// Close stops production early. It is idempotent and safe after exhaustion
// or failure. It does not close the execution context; the context's owner
// does that.
func (p *BatchProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done || p.err != nil {
		return
	}
	p.done = true
	p.op.close()
}
