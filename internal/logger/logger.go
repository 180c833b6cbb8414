// Package logger provides the structured, leveled logging used for the
// daemon's own operational output (process lifecycle, scheduler warnings).
// It is independent of the per-task-type log routing in the logroute
// package, which serves user task output rather than diagnostic output.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is a leveled, structured logger that always attributes log
// records to the call site, never to a frame inside this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type logger struct {
	handler slog.Handler
}

var _ Logger = (*logger)(nil)

// NewLogger builds a Logger from the given options. With no options it
// writes text-formatted, info-level records to stdout.
func NewLogger(opts ...Option) Logger {
	o := defaultOptions()
	for _, apply := range opts {
		apply(o)
	}
	return &logger{handler: buildHandler(o)}
}

func buildHandler(o *options) slog.Handler {
	var writers []io.Writer
	if o.writer != nil {
		writers = append(writers, o.writer)
	}
	if o.logFile != "" {
		f, err := openOrCreateLogFile(o.logFile)
		if err == nil {
			writers = append(writers, f)
		}
	}
	if !o.quiet {
		writers = append(writers, os.Stdout)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: o.debug,
	}

	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		if o.format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(w, handlerOpts))
		}
	}
	if len(handlers) == 1 {
		return handlers[0]
	}
	return slogmulti.Fanout(handlers...)
}

// log is the single place that walks the call stack. Every public entry
// point (methods and the package-level context helpers) is exactly one
// frame away from here, so skip=3 always lands on the real caller:
// 0=runtime.Callers itself, 1=log, 2=the wrapper (Info/Infof/...), 3=caller.
func (l *logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.handler.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.handler.Handle(ctx, r)
}

func (l *logger) Debug(msg string, args ...any) { l.log(context.Background(), slog.LevelDebug, msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.log(context.Background(), slog.LevelInfo, msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.log(context.Background(), slog.LevelWarn, msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.log(context.Background(), slog.LevelError, msg, args...) }

func (l *logger) Debugf(format string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *logger) Infof(format string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *logger) Warnf(format string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *logger) Errorf(format string, args ...any) {
	l.log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...))
}

func (l *logger) With(args ...any) Logger {
	return &logger{handler: l.handler.WithAttrs(argsToAttrs(args))}
}

func (l *logger) WithGroup(name string) Logger {
	return &logger{handler: l.handler.WithGroup(name)}
}

func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

func openOrCreateLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0644)
}
