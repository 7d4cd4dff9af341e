// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     transport
// Description: Listener/Connection contract consumed by the dispatcher
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

// Package transport defines the polling transport contract used by the shell
// dispatcher and provides TCP, WebSocket and in-memory implementations.
//
// Every implementation pumps socket reads on its own goroutine into a
// bounded line queue, so HasPending and HasAvailableLine never block and
// ReadLine blocks at most for the timeout it is given.
package transport

import (
	"time"

	tserror "github.com/msto63/telshell/pkg/core/error"
)

// LineEnding terminates every line written by the server
const LineEnding = "\r\n"

// MaxLineLength is the longest input line a connection accepts; longer
// lines terminate the connection.
const MaxLineLength = 4096

// DefaultWriteTimeout bounds a single write on network transports
const DefaultWriteTimeout = 5 * time.Second

const lineQueueSize = 64

// Listener hands out inbound connections without blocking
type Listener interface {
	// HasPending reports whether Accept would return a connection
	HasPending() bool

	// Accept returns the oldest pending connection or ErrNoPending
	Accept() (Connection, error)

	// Close stops accepting and closes connections still pending
	Close() error

	// Addr returns the bound address
	Addr() string
}

// Connection is one client session as seen by the dispatcher
type Connection interface {
	// IsConnected is false once the peer went away and no buffered input
	// remains, after a write failed, or after Close.
	IsConnected() bool

	// HasAvailableLine reports whether a complete line is buffered
	HasAvailableLine() bool

	// ReadLine returns the next line without its terminator, waiting at
	// most timeout for one to arrive.
	ReadLine(timeout time.Duration) (string, error)

	// Write sends s as-is
	Write(s string) error

	// Close releases the connection; safe to call more than once
	Close() error

	// RemoteAddr identifies the peer for logs and session listings
	RemoteAddr() string
}

var (
	// ErrNoPending is returned by Accept when nothing is waiting
	ErrNoPending = tserror.New("no pending connection").
			WithCode(tserror.CodeNotFound).
			WithOperation("transport.Accept")

	// ErrClosed is returned by operations on a closed connection or listener
	ErrClosed = tserror.New("transport closed").
			WithCode(tserror.CodeTransportError)

	// ErrReadTimeout is returned when ReadLine saw no line in time
	ErrReadTimeout = tserror.New("read timed out").
			WithCode(tserror.CodeTimeout).
			WithOperation("transport.ReadLine")
)

// WriteLine writes s followed by LineEnding
func WriteLine(conn Connection, s string) error {
	return conn.Write(s + LineEnding)
}

func transportError(err error, op string) error {
	return tserror.Wrap(err, "transport failure").
		WithCode(tserror.CodeTransportError).
		WithOperation(op)
}
