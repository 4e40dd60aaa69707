package bridge

import (
	"io"
	"os"

	"go.uber.org/zap"
)

const defaultMaxSearchPaths = 256

type options struct {
	logger           *zap.Logger
	diagnostics      io.Writer
	metrics          *Metrics
	maxSearchPaths   int
	maxResponseBytes int
}

// Option configures a Bridge.
type Option func(*options)

// WithLogger overrides the package logger for one Bridge.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDiagnostics sets where collaborator output and stack traces go.
// Default: os.Stderr.
func WithDiagnostics(w io.Writer) Option {
	return func(o *options) { o.diagnostics = w }
}

// WithMetrics records request and construction metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxSearchPaths caps the number of module search path entries accepted
// by Initialize. Default: 256.
func WithMaxSearchPaths(n int) Option {
	return func(o *options) { o.maxSearchPaths = n }
}

// WithMaxResponseBytes refuses to allocate response buffers larger than n
// bytes; such calls fail with out_of_memory. Zero means unlimited.
func WithMaxResponseBytes(n int) Option {
	return func(o *options) { o.maxResponseBytes = n }
}

func buildOptions(opts []Option) options {
	o := options{
		diagnostics:    os.Stderr,
		maxSearchPaths: defaultMaxSearchPaths,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.diagnostics == nil {
		o.diagnostics = io.Discard
	}
	if o.maxSearchPaths <= 0 {
		o.maxSearchPaths = defaultMaxSearchPaths
	}
	return o
}
