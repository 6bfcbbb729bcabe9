// Package logging provides the structured logger used across fx-insight.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Logger provides structured logging on top of zap. Derived loggers share
// the parent's level, so SetLevel affects every logger built from it.
type Logger struct {
	z      *zap.Logger
	level  zap.AtomicLevel
	format LogFormat
}

// NewLogger creates a new logger writing to stdout
func NewLogger(level LogLevel, format LogFormat) *Logger {
	return newLogger(level, format, os.Stdout)
}

func newLogger(level LogLevel, format LogFormat, w io.Writer) *Logger {
	atom := zap.NewAtomicLevelAt(toZapLevel(level))
	return &Logger{
		z:      zap.New(newCore(format, w, atom), zap.AddCaller(), zap.AddCallerSkip(1)),
		level:  atom,
		format: format,
	}
}

// NewFromZap wraps an existing zap logger, e.g. an observer in tests
func NewFromZap(z *zap.Logger) *Logger {
	return &Logger{
		z:      z,
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
		format: FormatJSON,
	}
}

func newCore(format LogFormat, w io.Writer, atom zap.AtomicLevel) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == FormatText {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(w), atom)
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With(zap.Any(key, value)), level: l.level, format: l.format}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{z: l.z.With(zf...), level: l.level, format: l.format}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{z: l.z.With(zap.Error(err)), level: l.level, format: l.format}
}

func (l *Logger) Debug(message string) { l.z.Debug(message) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.z.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(message string) { l.z.Info(message) }

func (l *Logger) Infof(format string, args ...interface{}) {
	l.z.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(message string) { l.z.Warn(message) }

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.z.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(message string) { l.z.Error(message) }

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.z.Error(fmt.Sprintf(format, args...))
}

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(message string, err error) {
	l.z.Error(message, zap.Error(err))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.z.Fatal(message)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.z.Fatal(fmt.Sprintf(format, args...))
}

// SetOutput redirects the logger to w, keeping level and format
func (l *Logger) SetOutput(w io.Writer) {
	l.z = zap.New(newCore(l.format, w, l.level), zap.AddCaller(), zap.AddCallerSkip(1))
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(level LogLevel, format LogFormat) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = NewLogger(level, format)
}

// SetGlobalLogger replaces the global logger
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo, FormatJSON)
	}
	return globalLogger
}

type loggerKey struct{}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves a logger from the context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return logger
	}
	return GetGlobalLogger()
}

// Convenience functions using global logger

func Debug(message string) { GetGlobalLogger().Debug(message) }
func Debugf(format string, args ...interface{}) { GetGlobalLogger().Debugf(format, args...) }
func Info(message string) { GetGlobalLogger().Info(message) }
func Infof(format string, args ...interface{}) { GetGlobalLogger().Infof(format, args...) }
func Warn(message string) { GetGlobalLogger().Warn(message) }
func Warnf(format string, args ...interface{}) { GetGlobalLogger().Warnf(format, args...) }
func Error(message string) { GetGlobalLogger().Error(message) }
func Errorf(format string, args ...interface{}) { GetGlobalLogger().Errorf(format, args...) }
func ErrorWithErr(message string, err error) { GetGlobalLogger().ErrorWithErr(message, err) }
func Fatal(message string) { GetGlobalLogger().Fatal(message) }
func Fatalf(format string, args ...interface{}) { GetGlobalLogger().Fatalf(format, args...) }
func WithField(key string, value interface{}) *Logger {
	return GetGlobalLogger().WithField(key, value)
}
func WithFields(fields map[string]interface{}) *Logger {
	return GetGlobalLogger().WithFields(fields)
}
func WithError(err error) *Logger { return GetGlobalLogger().WithError(err) }

// ParseLogLevel parses a string into a LogLevel
func ParseLogLevel(level string) LogLevel {
	switch level {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		log.Printf("Unknown log level '%s', defaulting to 'info'", level)
		return LevelInfo
	}
}

// ParseLogFormat parses a string into a LogFormat
func ParseLogFormat(format string) LogFormat {
	switch format {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		log.Printf("Unknown log format '%s', defaulting to 'json'", format)
		return FormatJSON
	}
}
