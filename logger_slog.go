package realtime

import (
	"context"
	"fmt"
	"log/slog"
)

// slogLogger adapts a *slog.Logger to the logger interface, so consumers that
// already run on structured logging can plug their own handler in.
type slogLogger struct {
	inner *slog.Logger
}

// NewSlogLogger wraps the given slog logger. A nil argument wraps slog.Default.
func NewSlogLogger(inner *slog.Logger) logger {
	if inner == nil {
		inner = slog.Default()
	}
	return &slogLogger{inner: inner}
}

func (l *slogLogger) WithField(key string, value any) logger {
	return &slogLogger{inner: l.inner.With(key, value)}
}

func (l *slogLogger) logf(level slog.Level, format string, args ...any) {
	l.inner.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Debug(args ...any) {
	l.inner.Debug(fmt.Sprint(args...))
}

func (l *slogLogger) Debugf(format string, args ...any) {
	l.logf(slog.LevelDebug, format, args...)
}

func (l *slogLogger) Debugln(args ...any) {
	l.inner.Debug(fmt.Sprint(args...))
}

func (l *slogLogger) Info(args ...any) {
	l.inner.Info(fmt.Sprint(args...))
}

func (l *slogLogger) Infof(format string, args ...any) {
	l.logf(slog.LevelInfo, format, args...)
}

func (l *slogLogger) Infoln(args ...any) {
	l.inner.Info(fmt.Sprint(args...))
}

func (l *slogLogger) Warn(args ...any) {
	l.inner.Warn(fmt.Sprint(args...))
}

func (l *slogLogger) Warnf(format string, args ...any) {
	l.logf(slog.LevelWarn, format, args...)
}

func (l *slogLogger) Warnln(args ...any) {
	l.inner.Warn(fmt.Sprint(args...))
}

func (l *slogLogger) Error(args ...any) {
	l.inner.Error(fmt.Sprint(args...))
}

func (l *slogLogger) Errorf(format string, args ...any) {
	l.logf(slog.LevelError, format, args...)
}

func (l *slogLogger) Errorln(args ...any) {
	l.inner.Error(fmt.Sprint(args...))
}
