package buffer

import (
	"github.com/zamazir/THMmonitor/metric"
)

// Option configures a Ring.
type Option[T any] func(*ringOptions[T])

type ringOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
	metricsReg     *metric.MetricsRegistry
	metricsPrefix  string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics exports ring statistics under the given component label.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *ringOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets a function called with every dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *ringOptions[T] {
	opts := &ringOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
