// Package log provides structured logging for filecrypt operations.
// By default, log output is discarded. Enable logging by
// calling SetLogger with a *logrus.Logger-backed implementation.
package log

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool creates a boolean field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Err creates an error field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger is the interface used throughout the module for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// logrusLogger adapts a *logrus.Entry to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

func fieldsToLogrus(fields []Field) logrus.Fields {
	f := make(logrus.Fields, len(fields))
	for _, field := range fields {
		f[field.Key] = field.Value
	}
	return f
}

func (l *logrusLogger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(fieldsToLogrus(fields)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields ...Field) {
	l.entry.WithFields(fieldsToLogrus(fields)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(fieldsToLogrus(fields)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, fields ...Field) {
	l.entry.WithFields(fieldsToLogrus(fields)).Error(msg)
}

func (l *logrusLogger) WithFields(fields ...Field) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fieldsToLogrus(fields))}
}

// NewLogrusLogger wraps an existing *logrus.Logger.
func NewLogrusLogger(base *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

// newDiscardLogger is the default: a logrus logger at Info level writing
// to io.Discard. Debug entries are skipped; Info and above are still
// formatted and then dropped.
func newDiscardLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewLogrusLogger(l)
}

var (
	defaultLogger Logger = newDiscardLogger()
	loggerMu      sync.RWMutex
)

// SetLogger sets the package-level logger. Call with nil to disable logging.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		defaultLogger = newDiscardLogger()
	} else {
		defaultLogger = l
	}
}

// GetLogger returns the current package-level logger.
func GetLogger() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// EnableDebugLogging points the package logger at a debug-level logrus
// logger writing to w. Convenience for CLI -v flags.
func EnableDebugLogging(w io.Writer) {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	SetLogger(NewLogrusLogger(l))
}

// Debug logs a debug message on the package-level logger.
func Debug(msg string, fields ...Field) { GetLogger().Debug(msg, fields...) }

// Info logs an info message on the package-level logger.
func Info(msg string, fields ...Field) { GetLogger().Info(msg, fields...) }

// Warn logs a warning message on the package-level logger.
func Warn(msg string, fields ...Field) { GetLogger().Warn(msg, fields...) }

// Error logs an error message on the package-level logger.
func Error(msg string, fields ...Field) { GetLogger().Error(msg, fields...) }
