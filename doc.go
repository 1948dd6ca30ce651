// Package colbridge routes relational plan fragments from a host database
// into an embedded vectorized columnar engine and streams result rows back.
//
// The bridge sits between a row-oriented host executor and a batch-oriented
// engine, with production-ready plumbing on both sides:
//
//   - Widening-only schema mapping from host catalog types to engine
//     columnar types, with per-shape caching
//   - Pure plan translation: unsupported fragments are refused before any
//     engine resource is touched, so the host can fall back
//   - Arena-backed execution contexts with hard memory and concurrency
//     budgets enforced at allocation time
//   - Vectorized operators (scan, filter, project, aggregate, sort, limit)
//     with three-valued logic over roaring-bitmap null tracking
//   - Cooperative cancellation observed at a bounded row interval, winning
//     over any execution error it triggers
//   - Pull-based row cursor converting engine batches back to host rows
//   - Optional detached execution over a fixed-slot transport with
//     compressed, flow-controlled batch streaming (packages ipc and worker)
//
// # Quick Start
//
// Register tables with an in-memory provider and execute a fragment:
//
//	provider := engine.NewMemProvider()
//	tbl, _ := engine.NewTable("people", rowType, rows, schema.NewMapper())
//	provider.Register(tbl)
//
//	bridge := colbridge.New(provider)
//	defer bridge.Close()
//
//	cursor, err := bridge.Execute(ctx, fragment, declaredRowType)
//	if err != nil {
//	    if colbridge.IsFallback(err) {
//	        // Run the fragment on the host instead.
//	    }
//	    return err
//	}
//	defer cursor.Close()
//
//	for cursor.Next() {
//	    row := cursor.Row() // valid until the next call to Next
//	    emit(row)
//	}
//	if err := cursor.Err(); err != nil {
//	    return err
//	}
//
// For tests and tooling, a single-table SELECT subset is accepted as text:
//
//	cursor, err := bridge.ExecuteSQL(ctx, "SELECT name, age FROM people WHERE age > 30")
//
// # Resource Budgets
//
// Budgets are configured per bridge and enforced centrally:
//
//	bridge := colbridge.New(provider,
//	    colbridge.WithEngineConfig(engine.Config{
//	        MemoryLimitBytes:     256 << 20,
//	        MaxConcurrentQueries: 8,
//	    }),
//	    colbridge.WithLogger(colbridge.NewJSONLogger(slog.LevelInfo)),
//	)
//
// Exceeding a budget fails the one invocation with ErrResourceExhausted;
// the bridge itself stays healthy.
package colbridge
