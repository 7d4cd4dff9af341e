// File: severity.go
// Title: Error Severity Levels
// Description: Severity levels used to pick the log level of an error.
// Author: msto63
// Version: v0.2.0
// Created: 2025-01-24
// Modified: 2026-10-19

package error

// Severity represents the severity level of an error
type Severity int

const (
	// SeverityLow is a fault the client caused or one that only affects a
	// single session
	SeverityLow Severity = iota

	// SeverityMedium affects functionality but the server keeps running
	SeverityMedium

	// SeverityHigh breaks a component, e.g. the listener or the audit store
	SeverityHigh

	// SeverityCritical makes the server unusable
	SeverityCritical
)

// String returns the string representation of the severity level
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ShouldAlert returns true if this severity level should trigger alerts
func (s Severity) ShouldAlert() bool {
	return s >= SeverityHigh
}

// GetSeverityFromCode determines appropriate severity level based on error code
func GetSeverityFromCode(code Code) Severity {
	switch code {
	case CodeInternal:
		return SeverityCritical
	case CodeDatabaseError, CodeConfigError:
		return SeverityHigh
	case CodeDuplicateRegistration, CodeInvalidOperation, CodeTimeout:
		return SeverityMedium
	case CodePoolExhausted, CodeUnknownCommand, CodeTransportError,
		CodeInvalidInput, CodeNotFound:
		return SeverityLow
	default:
		return SeverityMedium
	}
}
