// Package logger wraps zap behind the small interface the engine logs through.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(string, ...zap.Field)
	Info(string, ...zap.Field)
	Warn(string, ...zap.Field)
	Error(string, ...zap.Field)

	// With returns a child logger that adds fields to every entry.
	With(...zap.Field) Logger
}

// ZapLogger is an implementation of Logger that uses the uber/zap logger underneath.
type ZapLogger struct {
	*zap.Logger
}

var _ Logger = (*ZapLogger)(nil)

func (l *ZapLogger) With(fields ...zap.Field) Logger {
	return &ZapLogger{l.Logger.With(fields...)}
}

func (l *ZapLogger) Debug(msg string, fields ...zap.Field) {
	l.Logger.Debug(msg, fields...)
}

func (l *ZapLogger) Info(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, fields...)
}

func (l *ZapLogger) Warn(msg string, fields ...zap.Field) {
	l.Logger.Warn(msg, fields...)
}

func (l *ZapLogger) Error(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, fields...)
}

// NewNoopLogger provides noop logger that satisfies the logger interface.
func NewNoopLogger() *ZapLogger {
	return &ZapLogger{zap.NewNop()}
}

// New wraps an existing zap logger, e.g. one built on a zaptest observer core.
func New(l *zap.Logger) *ZapLogger {
	return &ZapLogger{l}
}

// ParseLevel maps a level name to its zap level. "none" is reported with ok=false.
func ParseLevel(logLevel string) (level zapcore.Level, ok bool, err error) {
	switch strings.ToLower(logLevel) {
	case "none":
		return 0, false, nil
	case "debug":
		return zap.DebugLevel, true, nil
	case "", "info":
		return zap.InfoLevel, true, nil
	case "warn":
		return zap.WarnLevel, true, nil
	case "error":
		return zap.ErrorLevel, true, nil
	default:
		return 0, false, fmt.Errorf("unknown log level: %s", logLevel)
	}
}

// NewLogger builds a production zap logger. logFormat is "json" or "text"; logLevel is
// one of debug, info, warn, error or none.
func NewLogger(logFormat, logLevel string) (*ZapLogger, error) {
	level, ok, err := ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewNoopLogger(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.CallerKey = "" // remove the "caller" field
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	switch logFormat {
	case "", "text":
		cfg.Encoding = "console"
		cfg.DisableCaller = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format: %s", logFormat)
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{log}, nil
}

func MustNewLogger(logFormat, logLevel string) *ZapLogger {
	logger, err := NewLogger(logFormat, logLevel)
	if err != nil {
		panic(err)
	}
	return logger
}
