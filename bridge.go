package colbridge

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hupe1980/colbridge/engine"
	"github.com/hupe1980/colbridge/plan"
	"github.com/hupe1980/colbridge/schema"
	"github.com/hupe1980/colbridge/sqlfront"
)

// DataSource is what the host integration layer plugs into the bridge: a
// catalog resolving table names to host row types, and the table data
// itself in engine representation. engine.MemProvider satisfies it.
type DataSource interface {
	engine.TableProvider
	plan.Catalog
}

// Bridge routes host plan fragments into the embedded columnar engine and
// streams result rows back. One Bridge serves many concurrent invocations;
// per-invocation state lives in the Cursor.
type Bridge struct {
	source  DataSource
	mapper  *schema.Mapper
	runtime *engine.Runtime
	logger  *Logger
	metrics MetricsCollector
	closed  atomic.Bool
}

// New creates a Bridge over a data source.
func New(source DataSource, optFns ...func(*Options)) *Bridge {
	opts := Options{
		Logger:  NoopLogger(),
		Metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bridge{
		source: source,
		mapper: schema.NewMapper(),
		runtime: engine.NewRuntime(source,
			engine.WithConfig(opts.Engine),
			engine.WithLogger(opts.Logger.Logger),
		),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Execute translates a host plan fragment and starts executing it.
//
// declared is the host's view of the fragment's output row type; the
// translated plan is validated against it. On a refusal (TranslationError,
// UnsupportedTypeError) no engine resource was touched and the host should
// execute the fragment itself; IsFallback distinguishes that case.
//
// On success the caller owns the returned cursor and must Close it on every
// exit path. Cancelling ctx stops execution within one check interval.
func (b *Bridge) Execute(ctx context.Context, fragment plan.Node, declared schema.RowType) (*Cursor, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	p, err := plan.Translate(fragment, declared, b.mapper, b.source)
	b.metrics.RecordTranslate(time.Since(start), err)
	b.logger.LogTranslate(ctx, err)
	if err != nil {
		if IsFallback(err) {
			b.metrics.RecordFallback(fallbackConstruct(err))
		}
		return nil, translateError(err)
	}

	return b.start(ctx, p)
}

// ExecuteSQL parses a single-table SELECT into a plan fragment and executes
// it. It exists for tests and tooling; the host integration path hands the
// bridge already-built fragments via Execute.
func (b *Bridge) ExecuteSQL(ctx context.Context, query string) (*Cursor, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	fragment, declared, err := sqlfront.Parse(query, b.source)
	if err != nil {
		if IsFallback(err) {
			b.metrics.RecordFallback(fallbackConstruct(err))
		}
		return nil, err
	}
	return b.Execute(ctx, fragment, declared)
}

func (b *Bridge) start(ctx context.Context, p *engine.Plan) (*Cursor, error) {
	ec, err := b.runtime.OpenContext(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	prod, err := b.runtime.Start(p, ec)
	if err != nil {
		ec.Close()
		return nil, translateError(err)
	}

	return &Cursor{
		ec:      ec,
		prod:    prod,
		schema:  p.Schema,
		logger:  b.logger.WithInvocation(ec.ID().String()),
		metrics: b.metrics,
		start:   time.Now(),
	}, nil
}

// fallbackConstruct names the construct that caused a refusal, for metrics.
func fallbackConstruct(err error) string {
	var terr *plan.TranslationError
	if errors.As(err, &terr) {
		return terr.Construct
	}
	var uerr *schema.UnsupportedTypeError
	if errors.As(err, &uerr) {
		return "type:" + uerr.HostType.String()
	}
	var perr *sqlfront.ParseError
	if errors.As(err, &perr) {
		return "sql"
	}
	return "unknown"
}

// Runtime exposes the embedded engine runtime, mainly for tests and
// resource introspection.
func (b *Bridge) Runtime() *engine.Runtime { return b.runtime }

// Close shuts the bridge down. It is idempotent. Open cursors must be
// closed by their owners first.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.runtime.Close()
	return nil
}
