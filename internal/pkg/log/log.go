// Package log wraps log/slog with the fielded-logger pattern used across
// this repo's components: every package-level singleton gets its own
// logger carrying a fixed "component" field plus whatever call-site fields
// it adds.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Fields is a set of structured fields attached to every record a
// FieldedLogger emits.
type Fields map[string]any

// FieldedLogger wraps a slog.Logger bound to a fixed set of fields.
type FieldedLogger struct {
	base *slog.Logger
}

var (
	once    sync.Once
	handler slog.Handler
	rotator io.WriteCloser
)

// Options configures the global logging output. Call Configure before the
// first Start/NewFieldedLogger if non-default rotation or level is needed.
type Options struct {
	Level    slog.Level
	LogDir   string // if set, logs rotate under this directory
	ToStderr bool
}

var currentOptions = Options{Level: slog.LevelInfo, ToStderr: true}

// Configure sets process-wide logging options. Must be called before Start.
func Configure(opts Options) {
	currentOptions = opts
}

// Start initializes the process-wide slog handler exactly once, wiring log
// rotation through lestrrat-go/file-rotatelogs when a log directory is
// configured.
func Start() {
	once.Do(func() {
		var writers []io.Writer

		if currentOptions.ToStderr || currentOptions.LogDir == "" {
			writers = append(writers, os.Stderr)
		}

		if currentOptions.LogDir != "" {
			rl, err := rotatelogs.New(
				currentOptions.LogDir+"/engine.%Y%m%d.log",
				rotatelogs.WithLinkName(currentOptions.LogDir+"/engine.log"),
				rotatelogs.WithMaxAge(-1),
				rotatelogs.WithRotationCount(14),
			)
			if err == nil {
				rotator = rl
				writers = append(writers, rl)
			}
		}

		var w io.Writer = os.Stderr
		if len(writers) == 1 {
			w = writers[0]
		} else if len(writers) > 1 {
			w = io.MultiWriter(writers...)
		}

		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: currentOptions.Level})
	})
}

// NewFieldedLogger returns a logger that always includes fields.
func NewFieldedLogger(fields *Fields) *FieldedLogger {
	Start()

	args := make([]any, 0, len(*fields)*2)
	for k, v := range *fields {
		args = append(args, k, v)
	}

	return &FieldedLogger{base: slog.New(handler).With(args...)}
}

func (l *FieldedLogger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *FieldedLogger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *FieldedLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *FieldedLogger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// WithContext returns the underlying slog logger for call sites that need
// context-aware logging methods.
func (l *FieldedLogger) WithContext(ctx context.Context) *slog.Logger {
	return l.base
}

// Close releases the log rotation file handle, if any.
func Close() error {
	if rotator != nil {
		return rotator.Close()
	}
	return nil
}
