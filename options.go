package colbridge

import (
	"github.com/hupe1980/colbridge/engine"
)

// Options configures a Bridge.
type Options struct {
	// Logger receives structured bridge logs. Defaults to NoopLogger.
	Logger *Logger

	// Metrics receives operational metrics. Defaults to NoopMetricsCollector.
	Metrics MetricsCollector

	// Engine configures the embedded runtime (batch size, memory budget,
	// concurrency). Zero values use the engine defaults.
	Engine engine.Config
}

// WithLogger sets the bridge logger.
func WithLogger(logger *Logger) func(*Options) {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) func(*Options) {
	return func(o *Options) {
		if metrics != nil {
			o.Metrics = metrics
		}
	}
}

// WithEngineConfig sets the embedded engine configuration.
func WithEngineConfig(cfg engine.Config) func(*Options) {
	return func(o *Options) {
		o.Engine = cfg
	}
}
