// Package logger wraps log/slog with the attributes the render engine
// attaches to every line: service, component, batch and job ids.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	BatchIDKey   contextKey = "batch_id"
	JobIDKey     contextKey = "job_id"
)

// Logger embeds *slog.Logger so the usual Info/Warn/Error/Debug are available.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is json or text.
	Format      string
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

// New builds a Logger. Timestamps are always UTC RFC3339Nano.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	if cfg.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewDefault logs info and above as JSON to stdout.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "json", ServiceName: "reelcast"})
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return New(Config{Output: io.Discard, Level: "error"})
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String(key, value))}
}

func (l *Logger) WithRequestID(id string) *Logger { return l.with("request_id", id) }
func (l *Logger) WithBatchID(id string) *Logger   { return l.with("batch_id", id) }
func (l *Logger) WithJobID(id string) *Logger     { return l.with("job_id", id) }
func (l *Logger) WithComponent(c string) *Logger  { return l.with("component", c) }

// WithError returns l unchanged for a nil error.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// FromContext enriches the logger with ids stored on ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	out := l
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		out = out.WithRequestID(v)
	}
	if v, ok := ctx.Value(BatchIDKey).(string); ok && v != "" {
		out = out.WithBatchID(v)
	}
	if v, ok := ctx.Value(JobIDKey).(string); ok && v != "" {
		out = out.WithJobID(v)
	}
	return out
}

// LogError logs err with the caller's file and line.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		args = append(args, "source", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		))
	}
	args = append(args, "error", err.Error())
	l.FromContext(ctx).Error(msg, args...)
}

// LogFatal logs and exits the process.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func ContextWithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, BatchIDKey, id)
}

func ContextWithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, JobIDKey, id)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
