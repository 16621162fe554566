// Package logger provides the shared logging facility for the authorization server.
// All packages log through the package-level helpers so that output format and level
// are controlled in one place.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger = newLogger(false).Sugar()
)

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap's production config cannot fail to build with valid encoder settings;
		// fall back to a no-op logger rather than panic during init.
		return zap.NewNop()
	}
	return l
}

// Initialize replaces the default logger. Call once at startup;
// debug enables human-readable console output at debug level.
func Initialize(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	log = newLogger(debug).Sugar()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a message at debug level.
func Debug(args ...any) { get().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { get().Debugf(format, args...) }

// Info logs a message at info level.
func Info(args ...any) { get().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { get().Infof(format, args...) }

// Warn logs a message at warn level.
func Warn(args ...any) { get().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { get().Warnf(format, args...) }

// Error logs a message at error level.
func Error(args ...any) { get().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { get().Errorf(format, args...) }

// Fatalf logs a formatted message at fatal level and exits.
func Fatalf(format string, args ...any) { get().Fatalf(format, args...) }

// Sync flushes any buffered log entries.
func Sync() error { return get().Sync() }
