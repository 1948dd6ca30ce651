package colbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/colbridge/engine"
	"github.com/hupe1980/colbridge/plan"
	"github.com/hupe1980/colbridge/resource"
	"github.com/hupe1980/colbridge/schema"
	"github.com/hupe1980/colbridge/sqlfront"
)

var (
	// ErrCancelled is returned when the host cancelled the invocation. It
	// takes precedence over any execution error raised by the teardown it
	// triggers.
	ErrCancelled = errors.New("query cancelled")

	// ErrResourceExhausted is returned when a configured budget (memory,
	// concurrent queries) would be exceeded. The invocation failed cleanly;
	// retrying later is safe.
	ErrResourceExhausted = errors.New("resource budget exhausted")

	// ErrClosed is returned when using a closed bridge or cursor.
	ErrClosed = errors.New("bridge closed")
)

// ExecutionError reports a failure raised while the engine was running a
// translated plan (arithmetic faults, malformed data). Unlike a
// TranslationError it does not mean the fragment was unsupported; the host
// should surface it, not fall back.
//
// The original underlying error can be accessed via errors.Unwrap.
type ExecutionError struct {
	Op      string
	Message string
	cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed in %s: %s", e.Op, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.cause }

// translateError folds internal errors into the bridge's error vocabulary.
// Cancellation and budget errors unify onto sentinels, engine execution
// faults become ExecutionError, and translation or type mapping errors pass
// through unchanged since they already carry host-facing context.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Cancellation unification.
	if errors.Is(err, engine.ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	// Budget unification.
	if errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}

	// Closed-state unification.
	if errors.Is(err, engine.ErrRuntimeClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	// Already host-facing.
	var terr *plan.TranslationError
	if errors.As(err, &terr) {
		return err
	}
	var uerr *schema.UnsupportedTypeError
	if errors.As(err, &uerr) {
		return err
	}

	var xerr *engine.ExecError
	if errors.As(err, &xerr) {
		return &ExecutionError{Op: xerr.Op, Message: xerr.Message, cause: err}
	}

	return err
}

// IsFallback reports whether the host should execute the fragment itself:
// the plan was refused before any engine resource was touched. Budget and
// execution failures are not fallbacks.
func IsFallback(err error) bool {
	var terr *plan.TranslationError
	if errors.As(err, &terr) {
		return true
	}
	var perr *sqlfront.ParseError
	if errors.As(err, &perr) {
		return true
	}
	var uerr *schema.UnsupportedTypeError
	return errors.As(err, &uerr)
}
