package imsession

import (
	"log/slog"

	"go.uber.org/zap"
)

// Logger is the interface for structured logging with key-value pairs.
// *slog.Logger satisfies it; NewZapLogger adapts a *zap.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default()
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger returns a Logger writing to l. Key-value args become zap fields.
func NewZapLogger(l *zap.Logger) Logger {
	return zapLogger{s: l.Sugar()}
}

func (l zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l zapLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l zapLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
