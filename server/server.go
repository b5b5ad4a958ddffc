// Package server exposes image search over HTTP. API serves the JSON search
// endpoint that apiclient talks to; Frontend serves the search widget page.
package server

import (
	"log/slog"
	"time"
)

// Option configures an API or a Frontend.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records request metrics on m and serves them on /metrics.
// Without it a private Metrics instance is created.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	return o
}
