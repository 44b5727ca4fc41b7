package logger

import (
	"context"
)

// WithLogger returns a new context with the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger from the given context, or the silent
// default when none was installed.
func FromContext(ctx context.Context) Logger {
	value := ctx.Value(contextKey{})
	if value == nil {
		return defaultLogger
	}
	return value.(Logger)
}

// WithValues adds key-value pairs to the context logger for structured
// logging downstream.
func WithValues(ctx context.Context, keyvals ...any) context.Context {
	// Keep pairs balanced so slog does not log a bad key marker.
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "MISSING_VALUE")
	}

	logger := FromContext(ctx).With(keyvals...)

	return context.WithValue(ctx, contextKey{}, logger)
}

// Debug logs a message with debug level.
func Debug(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Debug(msg, tags...)
}

// Info logs a message with info level.
func Info(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Info(msg, tags...)
}

// Warn logs a message with warn level.
func Warn(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Warn(msg, tags...)
}

// Error logs a message with error level.
func Error(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Error(msg, tags...)
}

// Debugf logs a formatted message with debug level.
func Debugf(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Debugf(format, v...)
}

// Infof logs a formatted message with info level.
func Infof(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Infof(format, v...)
}

// Warnf logs a formatted message with warn level.
func Warnf(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Warnf(format, v...)
}

// Errorf logs a formatted message with error level.
func Errorf(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Errorf(format, v...)
}

type contextKey struct{}
