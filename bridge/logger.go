package bridge

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	logger    atomic.Pointer[zap.Logger]
	nopLogger = zap.NewNop()
)

// Logger returns the bridge package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nopLogger
}

// SetLogger configures the bridge package's logger. It is safe to call
// while bridges are in use; a nil logger is ignored.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	logger.Store(l)
}
