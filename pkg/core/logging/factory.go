// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     logging
// Description: Factory functions for creating service loggers
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package logging

import (
	"io"
	"os"

	tslog "github.com/msto63/telshell/pkg/core/log"
)

// LoggerConfig holds configuration for creating loggers
type LoggerConfig struct {
	// Service name, written as "logger" on every entry
	ServiceName string

	// Log level (trace, debug, info, warn, error)
	Level string

	// Output format: json, text, console or logfmt (default: json)
	Format string

	// Output defaults to stdout
	Output io.Writer

	// Additional outputs besides Output
	AdditionalOutputs []io.Writer
}

// DefaultLoggerConfig returns a default configuration
func DefaultLoggerConfig(serviceName string) LoggerConfig {
	return LoggerConfig{
		ServiceName: serviceName,
		Level:       "info",
		Format:      "json",
	}
}

// NewLogger creates a new structured logger from cfg. Unknown level or
// format names fall back to info and json.
func NewLogger(cfg LoggerConfig) *tslog.Logger {
	level, _ := tslog.ParseLevel(cfg.Level)
	format, _ := tslog.ParseFormat(cfg.Format)

	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}
	if len(cfg.AdditionalOutputs) > 0 {
		writers := append([]io.Writer{output}, cfg.AdditionalOutputs...)
		output = io.MultiWriter(writers...)
	}

	return tslog.NewWithConfig(tslog.Config{
		Level:        level,
		Format:       format,
		Output:       output,
		Name:         cfg.ServiceName,
		EnableCaller: level <= tslog.LevelDebug,
	})
}

// NewSimpleLogger creates a logger with the default configuration
func NewSimpleLogger(serviceName string) *tslog.Logger {
	return NewLogger(DefaultLoggerConfig(serviceName))
}

// Configure replaces the process-wide base configuration used by New. The
// serve command calls it once after loading the config file.
func Configure(cfg LoggerConfig) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = cfg
}
