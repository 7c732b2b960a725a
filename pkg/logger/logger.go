// Package logger wraps zerolog behind a small interface so components can
// log structured events without binding to a concrete backend.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures logger creation.
type Options struct {
	// Level is the minimum severity to emit: trace, debug, info, warn,
	// error. Empty defaults to info.
	Level string

	// HumanReadable switches to the colorized console writer instead of
	// JSON lines.
	HumanReadable bool

	// Writer overrides the output destination. Defaults to stderr.
	Writer io.Writer
}

// Logger emits structured log events. A nil *Logger is safe to use and
// drops everything, so tests can pass nil without wiring.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger from the given options.
func New(opts Options) (*Logger, error) {
	level := strings.TrimSpace(strings.ToLower(opts.Level))
	if level == "" {
		level = "info"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.HumanReadable {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	zl := zerolog.New(w).Level(parsed).With().Timestamp().Logger()
	return &Logger{zl: zl}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// WithFields returns a child logger with the given fields attached to
// every event.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return nil
	}
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

// Trace logs at trace level.
func (l *Logger) Trace(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	emit(l.zl.Trace(), msg, fields)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	emit(l.zl.Debug(), msg, fields)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	emit(l.zl.Info(), msg, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	emit(l.zl.Warn(), msg, fields)
}

// Error logs at error level with an optional cause.
func (l *Logger) Error(err error, msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	ev := l.zl.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	emit(ev, msg, fields)
}

func emit(ev *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, m := range fields {
		for k, v := range m {
			ev = ev.Interface(k, v)
		}
	}
	ev.Msg(msg)
}
