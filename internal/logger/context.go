package logger

import (
	"context"
	"fmt"
	"log/slog"
)

type ctxKey struct{}

var defaultLogger Logger = NewLogger()

// WithLogger binds a Logger into ctx for retrieval by the package-level
// helpers below.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger bound to ctx, or a default stdout logger
// if none was bound.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return defaultLogger
}

// The package-level helpers below special-case *logger, calling its
// unexported log method directly (never its Info/Debug/... methods) so the
// call depth from user code matches the method form exactly, preserving
// correct source-location attribution. Any other bound Logger (notably
// runner.taskLogger, which every task-bound context carries) is dispatched
// through the public interface instead of being silently dropped — it
// can't share *logger's exact frame-depth trick, but it still receives the
// call, which is what every CheckRunConditions pre-flight record depends on.

func Debug(ctx context.Context, msg string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelDebug, msg, args...)
		return
	}
	l.Debug(msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelInfo, msg, args...)
		return
	}
	l.Info(msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelWarn, msg, args...)
		return
	}
	l.Warn(msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelError, msg, args...)
		return
	}
	l.Error(msg, args...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelDebug, fmt.Sprintf(format, args...))
		return
	}
	l.Debugf(format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelInfo, fmt.Sprintf(format, args...))
		return
	}
	l.Infof(format, args...)
}

func Warnf(ctx context.Context, format string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelWarn, fmt.Sprintf(format, args...))
		return
	}
	l.Warnf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	l := FromContext(ctx)
	if dl, ok := l.(*logger); ok {
		dl.log(ctx, slog.LevelError, fmt.Sprintf(format, args...))
		return
	}
	l.Errorf(format, args...)
}
