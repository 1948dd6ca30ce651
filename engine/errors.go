package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrRuntimeClosed is returned when starting work on a closed runtime.
	ErrRuntimeClosed = errors.New("engine: runtime closed")
	// ErrCancelled is returned when execution was stopped by the host's
	// cancellation signal.
	ErrCancelled = errors.New("engine: execution cancelled")
	// ErrPoolClosed is returned when submitting to a closed worker pool.
	ErrPoolClosed = errors.New("engine: worker pool closed")
	// ErrUnknownTable is returned when a scan references a table the
	// provider does not serve.
	ErrUnknownTable = errors.New("engine: unknown table")
)

// ExecError is an engine-reported execution failure (malformed data,
// arithmetic faults). It names the operator that raised it.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ExecError struct {
	Op      string
	Message string
	cause   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution failed in %s: %s", e.Op, e.Message)
}

func (e *ExecError) Unwrap() error { return e.cause }

func execErrorf(op string, format string, args ...any) *ExecError {
	return &ExecError{Op: op, Message: fmt.Sprintf(format, args...)}
}
