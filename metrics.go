package colbridge

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus (see the promcollector package for a ready-made adapter).
type MetricsCollector interface {
	// RecordTranslate is called after each translation attempt.
	// err is nil when the fragment was accepted.
	RecordTranslate(duration time.Duration, err error)

	// RecordExecute is called once per invocation when its cursor reaches a
	// terminal state. rows is the number of rows delivered to the host,
	// duration the time from cursor creation, err the terminal error if any.
	RecordExecute(rows int64, duration time.Duration, err error)

	// RecordFallback is called when a fragment is refused and the host
	// executes it itself. construct names the operator or expression that
	// caused the refusal.
	RecordFallback(construct string)

	// RecordCancel is called when an invocation ends by cancellation.
	RecordCancel()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTranslate(time.Duration, error)      {}
func (NoopMetricsCollector) RecordExecute(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordFallback(string)                     {}
func (NoopMetricsCollector) RecordCancel()                             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TranslateCount      atomic.Int64
	TranslateErrors     atomic.Int64
	TranslateTotalNanos atomic.Int64
	ExecuteCount        atomic.Int64
	ExecuteErrors       atomic.Int64
	ExecuteTotalNanos   atomic.Int64
	RowsDelivered       atomic.Int64
	FallbackCount       atomic.Int64
	CancelCount         atomic.Int64
}

// RecordTranslate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTranslate(duration time.Duration, err error) {
	b.TranslateCount.Add(1)
	b.TranslateTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TranslateErrors.Add(1)
	}
}

// RecordExecute implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExecute(rows int64, duration time.Duration, err error) {
	b.ExecuteCount.Add(1)
	b.ExecuteTotalNanos.Add(duration.Nanoseconds())
	b.RowsDelivered.Add(rows)
	if err != nil {
		b.ExecuteErrors.Add(1)
	}
}

// RecordFallback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFallback(string) {
	b.FallbackCount.Add(1)
}

// RecordCancel implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCancel() {
	b.CancelCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TranslateCount:  b.TranslateCount.Load(),
		TranslateErrors: b.TranslateErrors.Load(),
		ExecuteCount:    b.ExecuteCount.Load(),
		ExecuteErrors:   b.ExecuteErrors.Load(),
		ExecuteAvgNanos: b.getAvgExecuteNanos(),
		RowsDelivered:   b.RowsDelivered.Load(),
		FallbackCount:   b.FallbackCount.Load(),
		CancelCount:     b.CancelCount.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgExecuteNanos() int64 {
	count := b.ExecuteCount.Load()
	if count == 0 {
		return 0
	}
	return b.ExecuteTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TranslateCount  int64
	TranslateErrors int64
	ExecuteCount    int64
	ExecuteErrors   int64
	ExecuteAvgNanos int64
	RowsDelivered   int64
	FallbackCount   int64
	CancelCount     int64
}
