// Package logging defines the logging interface shared by the engine and
// database layers, with a zap-backed implementation.
package logging

import "go.uber.org/zap"

// Logger is the logging interface accepted by the engine. Key-value pairs
// alternate keys (string) and values.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// ZapLogger adapts a *zap.Logger to the Logger interface.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps the given zap logger. Passing nil uses zap's no-op
// logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{s: l.Sugar()}
}

// NewDevelopmentLogger returns a Logger writing human-readable output to
// stderr, suitable for examples and debugging sessions.
func NewDevelopmentLogger() *ZapLogger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z *ZapLogger) Info(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z *ZapLogger) Warn(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z *ZapLogger) Error(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}
