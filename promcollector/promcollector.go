// Package promcollector exposes bridge metrics to Prometheus.
//
// It implements the MetricsCollector interface so a host can plug a shared
// registry into the bridge:
//
//	reg := prometheus.NewRegistry()
//	bridge := colbridge.New(source, colbridge.WithMetrics(promcollector.New(reg)))
package promcollector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "colbridge"

// Collector implements colbridge.MetricsCollector on a Prometheus registry.
type Collector struct {
	translates        *prometheus.CounterVec
	translateDuration prometheus.Histogram
	executes          *prometheus.CounterVec
	executeDuration   prometheus.Histogram
	rowsReturned      prometheus.Counter
	fallbacks         *prometheus.CounterVec
	cancels           prometheus.Counter
}

// New creates a collector and registers its metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		translates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Plan translations by outcome.",
		}, []string{"status"}),
		translateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_duration_seconds",
			Help:      "Plan translation latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		executes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Query executions by outcome.",
		}, []string{"status"}),
		executeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Query execution latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 12),
		}),
		rowsReturned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_returned_total",
			Help:      "Rows handed back to the host.",
		}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Plans refused back to the host, by construct.",
		}, []string{"construct"}),
		cancels: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Invocations cancelled by the host.",
		}),
	}
}

// RecordTranslate implements colbridge.MetricsCollector.
func (c *Collector) RecordTranslate(duration time.Duration, err error) {
	c.translates.WithLabelValues(status(err)).Inc()
	c.translateDuration.Observe(duration.Seconds())
}

// RecordExecute implements colbridge.MetricsCollector.
func (c *Collector) RecordExecute(rows int64, duration time.Duration, err error) {
	c.executes.WithLabelValues(status(err)).Inc()
	c.executeDuration.Observe(duration.Seconds())
	c.rowsReturned.Add(float64(rows))
}

// RecordFallback implements colbridge.MetricsCollector.
func (c *Collector) RecordFallback(construct string) {
	c.fallbacks.WithLabelValues(construct).Inc()
}

// RecordCancel implements colbridge.MetricsCollector.
func (c *Collector) RecordCancel() {
	c.cancels.Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
