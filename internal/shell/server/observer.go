package server

import (
	"time"
)

// SessionEvent describes a session being opened or closed
type SessionEvent struct {
	Slot       int
	SessionID  string
	RemoteAddr string
	// Reason is empty for opened sessions
	Reason   string
	Duration time.Duration
	Time     time.Time
}

// CommandEvent describes one dispatched input line
type CommandEvent struct {
	Slot       int
	SessionID  string
	RemoteAddr string
	Input      string
	// Command is the resolved command name, empty when Known is false
	Command  string
	Known    bool
	Duration time.Duration
	Time     time.Time
}

// Observer receives session lifecycle and command events from the
// dispatch loop. Methods are called synchronously from PollOnce and must
// not block.
type Observer interface {
	SessionOpened(ev SessionEvent)
	SessionClosed(ev SessionEvent)
	CommandExecuted(ev CommandEvent)
}

// MultiObserver fans events out to several observers in order
type MultiObserver []Observer

func (m MultiObserver) SessionOpened(ev SessionEvent) {
	for _, o := range m {
		o.SessionOpened(ev)
	}
}

func (m MultiObserver) SessionClosed(ev SessionEvent) {
	for _, o := range m {
		o.SessionClosed(ev)
	}
}

func (m MultiObserver) CommandExecuted(ev CommandEvent) {
	for _, o := range m {
		o.CommandExecuted(ev)
	}
}

type nopObserver struct{}

func (nopObserver) SessionOpened(SessionEvent)   {}
func (nopObserver) SessionClosed(SessionEvent)   {}
func (nopObserver) CommandExecuted(CommandEvent) {}
