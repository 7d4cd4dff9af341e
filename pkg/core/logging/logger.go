// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     logging
// Description: Key/value logger wrapper used throughout the server
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package logging

import (
	"sync"

	tslog "github.com/msto63/telshell/pkg/core/log"
)

var (
	base   = DefaultLoggerConfig("")
	baseMu sync.RWMutex
)

// Logger wraps the structured logger with a key/value call style:
//
//	logger.Info("client accepted", "slot", 2, "remote", addr)
type Logger struct {
	*tslog.Logger
	name string
}

// New creates a component logger using the configuration set by Configure
func New(name string) *Logger {
	baseMu.RLock()
	cfg := base
	baseMu.RUnlock()

	cfg.ServiceName = name
	return &Logger{Logger: NewLogger(cfg), name: name}
}

// Wrap adapts an existing structured logger
func Wrap(l *tslog.Logger) *Logger {
	return &Logger{Logger: l, name: l.Name()}
}

// With returns a logger that adds the given key/value pairs to every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.WithFields(toFields(keysAndValues...)), name: l.name}
}

// Trace logs a trace message
func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.Logger.Trace(msg, toFields(keysAndValues...))
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, toFields(keysAndValues...))
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Info(msg, toFields(keysAndValues...))
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Logger.Warn(msg, toFields(keysAndValues...))
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, toFields(keysAndValues...))
}

// Audit logs regardless of the configured level
func (l *Logger) Audit(msg string, keysAndValues ...interface{}) {
	l.Logger.Audit(msg, toFields(keysAndValues...))
}

// toFields converts key-value pairs to structured fields; a dangling key
// without value is dropped.
func toFields(keysAndValues ...interface{}) tslog.Fields {
	if len(keysAndValues) == 0 {
		return nil
	}

	fields := make(tslog.Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
