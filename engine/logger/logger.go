// Package logger holds the process-wide zap logger shared by every engine package.
// By default nothing is logged; call SetLogger to enable output.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// loggerPtr stores the active logger. Accessed atomically so that SetLogger can be
// called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[zap.Logger]

func init() {
	loggerPtr.Store(zap.NewNop())
}

// SetLogger configures the logger for the engine and all its sub-packages.
// Pass nil to restore the default silent logger.
//
// Log levels used:
//   - Debug: per-frame ordering and dispatch detail
//   - Info: lifecycle events (resource allocation/release, producer teardown)
//   - Warn: absorbed consistency failures (duplicate registration, shape mismatch, abandoned readback)
//
// Parameters:
//   - l: the logger to install, or nil
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
//
// Returns:
//   - *zap.Logger: the active logger, never nil
func Logger() *zap.Logger {
	return loggerPtr.Load()
}

// Named returns a child of the current logger scoped to a component name.
// Components resolve their logger at construction time, so a later SetLogger only
// affects components created afterwards.
//
// Parameters:
//   - name: the component name
//
// Returns:
//   - *zap.Logger: the named logger
func Named(name string) *zap.Logger {
	return Logger().Named(name)
}
