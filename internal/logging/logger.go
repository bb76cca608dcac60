// Package logging provides the structured logger shared by every hotswap
// component. It is a thin layer over log/slog that carries a component name
// and persistent fields, and takes errors as a first-class argument.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents different log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string to a LogLevel. Unknown values fall
// back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger interface for structured logging
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

// HotswapLogger implements Logger on top of slog.
type HotswapLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	fields    []interface{}
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new structured logger
func NewLogger(config *LoggerConfig) *HotswapLogger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &HotswapLogger{
		logger:    slog.New(handler),
		level:     config.Level,
		component: config.Component,
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *HotswapLogger {
	return NewLogger(&LoggerConfig{Level: LevelError + 1, Output: io.Discard})
}

// Debug logs a debug message
func (l *HotswapLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	if l.level > LevelDebug {
		return
	}
	l.log(ctx, slog.LevelDebug, nil, msg, fields...)
}

// Info logs an info message
func (l *HotswapLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	if l.level > LevelInfo {
		return
	}
	l.log(ctx, slog.LevelInfo, nil, msg, fields...)
}

// Warn logs a warning message
func (l *HotswapLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	if l.level > LevelWarn {
		return
	}
	l.log(ctx, slog.LevelWarn, err, msg, fields...)
}

// Error logs an error message
func (l *HotswapLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	if l.level > LevelError {
		return
	}
	l.log(ctx, slog.LevelError, err, msg, fields...)
}

// With creates a new logger with additional fields
func (l *HotswapLogger) With(fields ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)

	return &HotswapLogger{
		logger:    l.logger,
		level:     l.level,
		component: l.component,
		fields:    merged,
	}
}

// WithComponent creates a new logger with component context
func (l *HotswapLogger) WithComponent(component string) Logger {
	return &HotswapLogger{
		logger:    l.logger,
		level:     l.level,
		component: component,
		fields:    l.fields,
	}
}

func (l *HotswapLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields ...interface{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Handler().Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, (len(l.fields)+len(fields))/2+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	attrs = appendPairs(attrs, l.fields)
	attrs = appendPairs(attrs, fields)

	record := slog.NewRecord(time.Now(), level, msg, 0)
	record.AddAttrs(attrs...)

	_ = l.logger.Handler().Handle(ctx, record)
}

func appendPairs(attrs []slog.Attr, fields []interface{}) []slog.Attr {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			attrs = append(attrs, slog.Any(key, fields[i+1]))
		}
	}
	return attrs
}

// PerfLogger tracks the duration of one operation.
type PerfLogger struct {
	Logger
	startTime time.Time
}

// StartOperation begins performance tracking
func StartOperation(l Logger, operation string) *PerfLogger {
	return &PerfLogger{
		Logger:    l.With("operation", operation),
		startTime: time.Now(),
	}
}

// End completes performance tracking and logs the duration at debug level.
func (p *PerfLogger) End(ctx context.Context, fields ...interface{}) {
	duration := time.Since(p.startTime)
	fields = append(fields, "duration_ms", duration.Milliseconds())
	p.Debug(ctx, "Operation completed", fields...)
}
