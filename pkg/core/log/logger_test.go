// File: logger_test.go
// Title: Logger Tests
// Description: Tests for level filtering, context fields, formatters and
//              severity-mapped error logging.
// Author: msto63
// Version: v0.2.0
// Created: 2025-01-24
// Modified: 2026-10-19

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	tserror "github.com/msto63/telshell/pkg/core/error"
)

func newBufferLogger(level Level, format Format) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewWithConfig(Config{Level: level, Format: format, Output: &buf, Name: "test"}), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(LevelWarn, FormatJSON)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Audit("always")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	if lines[0]["message"] != "kept" || lines[1]["level"] != "audit" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestLogger_WithFieldIsImmutable(t *testing.T) {
	base, buf := newBufferLogger(LevelInfo, FormatJSON)
	child := base.WithField("slot", 3)

	base.Info("from base")
	child.Info("from child", Fields{"session": "abc"})

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if _, ok := lines[0]["slot"]; ok {
		t.Error("base logger must not carry child fields")
	}
	if lines[1]["slot"] != float64(3) || lines[1]["session"] != "abc" {
		t.Errorf("child fields missing: %v", lines[1])
	}
	if lines[1]["logger"] != "test" {
		t.Errorf("logger name = %v", lines[1]["logger"])
	}
}

func TestLogger_LogErrorUsesSeverity(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantLevel    string
		wantCategory interface{}
	}{
		{"low severity logs at info", tserror.New("pool full").WithCode(tserror.CodePoolExhausted), "info", "session"},
		{"medium severity logs at warn", tserror.New("dup").WithCode(tserror.CodeDuplicateRegistration), "warn", "registry"},
		{"high severity logs at error", tserror.New("db").WithCode(tserror.CodeDatabaseError), "error", "storage"},
		{"plain error logs at error", errors.New("boom"), "error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newBufferLogger(LevelTrace, FormatJSON)
			logger.LogError(tt.err)

			lines := decodeLines(t, buf)
			if len(lines) != 1 {
				t.Fatalf("got %d lines", len(lines))
			}
			if lines[0]["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", lines[0]["level"], tt.wantLevel)
			}
			if lines[0]["error_category"] != tt.wantCategory {
				t.Errorf("error_category = %v, want %v", lines[0]["error_category"], tt.wantCategory)
			}
		})
	}
}

func TestTextFormatter_SortedFields(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo, FormatText)
	logger.Info("accepted", Fields{"slot": 1, "remote": "127.0.0.1:5000"})

	line := buf.String()
	if !strings.Contains(line, "[INF] {test} accepted [remote=127.0.0.1:5000 slot=1]") {
		t.Errorf("unexpected text line: %q", line)
	}
}

func TestLogfmtFormatter(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo, FormatLogfmt)
	logger.WarnWithErr("write failed", errors.New("broken pipe"), Fields{"slot": 2})

	line := buf.String()
	for _, want := range []string{`level=warn`, `message="write failed"`, `slot=2`, `error="broken pipe"`} {
		if !strings.Contains(line, want) {
			t.Errorf("logfmt line %q missing %q", line, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"WARNING", LevelWarn, false},
		{"", LevelInfo, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
