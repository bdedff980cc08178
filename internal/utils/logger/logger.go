package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a named component logger. Error returns the logged error so
// callers can do `return log.Error("context", err)`.
type Logger struct {
	name  string
	sugar *zap.SugaredLogger
}

var root *zap.Logger

func init() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	root = l
}

// Zap exposes the underlying zap logger for packages that want structured
// fields directly (the task server does).
func Zap() *zap.Logger {
	return root
}

func New(name string) *Logger {
	return &Logger{
		name:  name,
		sugar: root.Sugar().Named(name),
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Success(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(msg string, err error) error {
	if err == nil {
		l.sugar.Error(msg)
		return fmt.Errorf("%s", msg)
	}
	l.sugar.Errorf("%s: %v", msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}
