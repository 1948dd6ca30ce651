package promcollector

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbridge"
)

var _ colbridge.MetricsCollector = (*Collector)(nil)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordTranslate(50*time.Microsecond, nil)
	c.RecordTranslate(10*time.Microsecond, errors.New("refused"))
	c.RecordExecute(42, 3*time.Millisecond, nil)
	c.RecordFallback("join")
	c.RecordFallback("join")
	c.RecordCancel()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.translates.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.translates.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executes.WithLabelValues("ok")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.rowsReturned))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("join")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancels))
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	// A second collector on the same registry collides on metric names.
	require.Panics(t, func() { New(reg) })
}
