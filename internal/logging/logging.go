// Package logging provides a context-scoped leveled logger for the pool.
//
// Logs are attached to a context.Context with AttachLogger and emitted with
// Debug/Info/Errorf. This mirrors the way the rest of this codebase threads
// a worker or host identity through a context: the logger travels with the
// context rather than being passed around as an extra parameter.
package logging

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a log message.
type Level int

const (
	// LevelDebug is for verbose, per-command diagnostic output.
	LevelDebug Level = iota
	// LevelInfo is for normal operational messages.
	LevelInfo
	// LevelError is for failures.
	LevelError
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger receives log messages. Implementations must be safe for concurrent
// use since multiple workers log concurrently.
type Logger interface {
	Log(level Level, ts time.Time, msg string)
}

type loggerKey struct{}
type prefixKey struct{}

// AttachLogger returns a new context with logger attached. Logs emitted via
// the new context also propagate to any logger already attached to ctx.
func AttachLogger(ctx context.Context, logger Logger) context.Context {
	if parent, ok := fromContext(ctx); ok {
		logger = multiLogger{logger, parent}
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithPrefix returns a new context whose log messages are prefixed with
// prefix, e.g. the host name of the worker currently executing.
func WithPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, prefixKey{}, prefix)
}

func fromContext(ctx context.Context) (Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(Logger)
	return logger, ok
}

func prefixFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(prefixKey{}).(string); ok {
		return p
	}
	return ""
}

type multiLogger struct {
	a, b Logger
}

func (m multiLogger) Log(level Level, ts time.Time, msg string) {
	m.a.Log(level, ts, msg)
	m.b.Log(level, ts, msg)
}

// Debug emits a log with debug level.
func Debug(ctx context.Context, args ...interface{}) { log(ctx, LevelDebug, args...) }

// Debugf is similar to Debug but formats its arguments using fmt.Sprintf.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, LevelDebug, format, args...)
}

// Info emits a log with info level.
func Info(ctx context.Context, args ...interface{}) { log(ctx, LevelInfo, args...) }

// Infof is similar to Info but formats its arguments using fmt.Sprintf.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, LevelInfo, format, args...)
}

// Errorf emits a log with error level, formatting its arguments using
// fmt.Sprintf.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, LevelError, format, args...)
}

func log(ctx context.Context, level Level, args ...interface{}) {
	ts := time.Now()
	logger, ok := fromContext(ctx)
	if !ok {
		return
	}
	logger.Log(level, ts, replaceInvalidUTF8(prefixFromContext(ctx)+fmt.Sprint(args...)))
}

func logf(ctx context.Context, level Level, format string, args ...interface{}) {
	ts := time.Now()
	logger, ok := fromContext(ctx)
	if !ok {
		return
	}
	logger.Log(level, ts, replaceInvalidUTF8(prefixFromContext(ctx)+fmt.Sprintf(format, args...)))
}

// replaceInvalidUTF8 strips invalid UTF-8 bytes so log sinks that assume
// valid text (e.g. a line-oriented file writer) never choke on it.
func replaceInvalidUTF8(msg string) string {
	return strings.ToValidUTF8(msg, "")
}
