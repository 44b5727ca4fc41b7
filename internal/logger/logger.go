// Package logger provides structured logging for the coordinator. The
// logger travels in the context; applications install their own with
// WithLogger, and the default discards everything so the library stays
// silent unless asked to speak.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

type Logger interface {
	Debug(msg string, tags ...any)
	Info(msg string, tags ...any)
	Warn(msg string, tags ...any)
	Error(msg string, tags ...any)

	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)

	With(attrs ...any) Logger
	WithGroup(name string) Logger
}

var _ Logger = (*appLogger)(nil)

type appLogger struct {
	logger *slog.Logger
	debug  bool
}

type Config struct {
	debug   bool
	format  string
	writer  io.Writer
	stderr  bool
	handler slog.Handler
}

type Option func(*Config)

// WithDebug sets the level of the logger to debug.
func WithDebug() Option {
	return func(o *Config) {
		o.debug = true
	}
}

// WithFormat sets the format of the logger (text or json).
func WithFormat(format string) Option {
	return func(o *Config) {
		o.format = format
	}
}

// WithWriter adds a writer to log to. Writes are serialized so multiple
// loggers can share the same file without interleaving lines.
func WithWriter(w io.Writer) Option {
	return func(o *Config) {
		o.writer = w
	}
}

// WithStderr also logs to stderr. Off by default; a library must not
// write to the process streams unasked.
func WithStderr() Option {
	return func(o *Config) {
		o.stderr = true
	}
}

// WithHandler fans log records out to an additional slog.Handler.
func WithHandler(h slog.Handler) Option {
	return func(o *Config) {
		o.handler = h
	}
}

var defaultLogger = NewLogger()

func NewLogger(opts ...Option) Logger {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var level slog.Level
	if cfg.debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handlers []slog.Handler

	if cfg.stderr {
		handlers = append(handlers, newHandler(os.Stderr, cfg.format, handlerOpts))
	}

	if cfg.writer != nil {
		handler := newHandler(cfg.writer, cfg.format, handlerOpts)
		handlers = append(handlers, newGuardedHandler(handler, cfg.writer))
	}

	if cfg.handler != nil {
		handlers = append(handlers, cfg.handler)
	}

	return &appLogger{
		logger: slog.New(slogmulti.Fanout(handlers...)),
		debug:  cfg.debug,
	}
}

var _ slog.Handler = (*guardedHandler)(nil)

// guardedHandler is a slog.Handler that guards writes with a mutex so that
// loggers sharing one writer do not interleave log lines. It assumes the
// underlying handler is otherwise thread-safe.
type guardedHandler struct {
	handler slog.Handler
	writer  io.Writer
	mu      sync.Mutex
}

func newGuardedHandler(handler slog.Handler, writer io.Writer) *guardedHandler {
	return &guardedHandler{
		handler: handler,
		writer:  writer,
	}
}

// Enabled implements slog.Handler.
func (s *guardedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (s *guardedHandler) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler.Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (s *guardedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &guardedHandler{
		handler: s.handler.WithAttrs(attrs),
		writer:  s.writer,
	}
}

// WithGroup implements slog.Handler.
func (s *guardedHandler) WithGroup(name string) slog.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &guardedHandler{
		handler: s.handler.WithGroup(name),
		writer:  s.writer,
	}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Debug implements logger.Logger.
func (a *appLogger) Debug(msg string, tags ...any) {
	if a.debug {
		a.logWithPC(slog.LevelDebug, msg, tags...)
	} else {
		a.logger.Debug(msg, tags...)
	}
}

// Info implements logger.Logger.
func (a *appLogger) Info(msg string, tags ...any) {
	if a.debug {
		a.logWithPC(slog.LevelInfo, msg, tags...)
	} else {
		a.logger.Info(msg, tags...)
	}
}

// Warn implements logger.Logger.
func (a *appLogger) Warn(msg string, tags ...any) {
	if a.debug {
		a.logWithPC(slog.LevelWarn, msg, tags...)
	} else {
		a.logger.Warn(msg, tags...)
	}
}

// Error implements logger.Logger.
func (a *appLogger) Error(msg string, tags ...any) {
	if a.debug {
		a.logWithPC(slog.LevelError, msg, tags...)
	} else {
		a.logger.Error(msg, tags...)
	}
}

// Debugf implements logger.Logger.
func (a *appLogger) Debugf(format string, v ...any) {
	if a.debug {
		a.logWithPC(slog.LevelDebug, fmt.Sprintf(format, v...))
	} else {
		a.logger.Debug(fmt.Sprintf(format, v...))
	}
}

// Infof implements logger.Logger.
func (a *appLogger) Infof(format string, v ...any) {
	if a.debug {
		a.logWithPC(slog.LevelInfo, fmt.Sprintf(format, v...))
	} else {
		a.logger.Info(fmt.Sprintf(format, v...))
	}
}

// Warnf implements logger.Logger.
func (a *appLogger) Warnf(format string, v ...any) {
	if a.debug {
		a.logWithPC(slog.LevelWarn, fmt.Sprintf(format, v...))
	} else {
		a.logger.Warn(fmt.Sprintf(format, v...))
	}
}

// Errorf implements logger.Logger.
func (a *appLogger) Errorf(format string, v ...any) {
	if a.debug {
		a.logWithPC(slog.LevelError, fmt.Sprintf(format, v...))
	} else {
		a.logger.Error(fmt.Sprintf(format, v...))
	}
}

// logWithPC logs with the correct program counter
func (a *appLogger) logWithPC(level slog.Level, msg string, tags ...any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}

	// Get the caller's PC
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // Skip runtime.Callers, logWithPC, and the logger method

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(tags...)
	_ = a.logger.Handler().Handle(context.Background(), record)
}

// With implements logger.Logger.
func (a *appLogger) With(attrs ...any) Logger {
	return &appLogger{
		logger: a.logger.With(attrs...),
		debug:  a.debug,
	}
}

// WithGroup implements logger.Logger.
func (a *appLogger) WithGroup(name string) Logger {
	return &appLogger{
		logger: a.logger.WithGroup(name),
		debug:  a.debug,
	}
}
