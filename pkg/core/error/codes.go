// File: codes.go
// Title: Error Code Definitions
// Description: Error codes shared by the shell server, its transports and
//              the ambient packages. Codes classify failures so callers can
//              decide whether a fault is per-connection or fatal at setup.
// Author: msto63
// Version: v0.2.0
// Created: 2025-01-24
// Modified: 2026-10-19
//
// Change History:
// - 2025-01-24 v0.1.0: Initial implementation with core error codes
// - 2026-10-19 v0.2.0: Reduced to the shell server taxonomy

package error

// Code represents a structured error code for categorizing errors
type Code string

const (
	// Generic codes
	CodeUnknown          Code = "UNKNOWN"
	CodeInternal         Code = "INTERNAL"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeInvalidOperation Code = "INVALID_OPERATION"
	CodeTimeout          Code = "TIMEOUT"

	// Shell server
	CodePoolExhausted         Code = "POOL_EXHAUSTED"
	CodeUnknownCommand        Code = "UNKNOWN_COMMAND"
	CodeTransportError        Code = "TRANSPORT_ERROR"
	CodeDuplicateRegistration Code = "DUPLICATE_REGISTRATION"

	// Configuration and storage
	CodeConfigError   Code = "CONFIG_ERROR"
	CodeDatabaseError Code = "DATABASE_ERROR"
)

// String returns the string representation of the error code
func (c Code) String() string {
	return string(c)
}

// Category returns the high-level category of the error code
func (c Code) Category() string {
	switch c {
	case CodePoolExhausted, CodeUnknownCommand, CodeTransportError:
		return "session"
	case CodeDuplicateRegistration:
		return "registry"
	case CodeConfigError:
		return "configuration"
	case CodeDatabaseError:
		return "storage"
	default:
		return "generic"
	}
}

// IsConnectionScoped reports whether an error with this code only affects a
// single connection and must never stop the dispatch loop.
func (c Code) IsConnectionScoped() bool {
	switch c {
	case CodePoolExhausted, CodeUnknownCommand, CodeTransportError, CodeTimeout:
		return true
	default:
		return false
	}
}
