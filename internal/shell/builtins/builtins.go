// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     builtins
// Description: Host commands available in every shell session
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

// Package builtins registers the commands a telshell host offers besides
// help: version, uptime, who and exit (aliased as quit).
package builtins

import (
	"fmt"
	"time"

	"github.com/msto63/telshell/internal/shell/registry"
	"github.com/msto63/telshell/internal/shell/slots"
	"github.com/msto63/telshell/internal/shell/transport"
	"github.com/msto63/telshell/pkg/core/version"
)

// Host is the server state the built-ins report on
type Host interface {
	Sessions() []slots.SlotInfo
	Capacity() int
	StartedAt() time.Time
}

// Register adds the built-in commands to r. It fails on the first name
// that is already taken.
func Register(r *registry.Registry, host Host) error {
	return RegisterWithClock(r, host, time.Now)
}

// RegisterWithClock is Register with an explicit time source
func RegisterWithClock(r *registry.Registry, host Host, now func() time.Time) error {
	b := &builtins{host: host, now: now}

	cmds := []struct {
		name string
		fn   func(transport.Connection, string)
		help string
	}{
		{"version", b.version, "Shows the server version."},
		{"uptime", b.uptime, "Shows how long the server has been running."},
		{"who", b.who, "Lists connected sessions."},
		{"exit", b.exit, "Closes this session."},
	}
	for _, c := range cmds {
		if err := r.RegisterFunc(c.name, c.fn, c.help); err != nil {
			return err
		}
	}
	return r.Alias("quit", "exit")
}

type builtins struct {
	host Host
	now  func() time.Time
}

func (b *builtins) version(conn transport.Connection, _ string) {
	transport.WriteLine(conn, version.Get().String())
}

func (b *builtins) uptime(conn transport.Connection, _ string) {
	started := b.host.StartedAt()
	if started.IsZero() {
		transport.WriteLine(conn, "up 0s")
		return
	}
	transport.WriteLine(conn, "up "+FormatDuration(b.now().Sub(started)))
}

func (b *builtins) who(conn transport.Connection, _ string) {
	sessions := b.host.Sessions()
	transport.WriteLine(conn, fmt.Sprintf("%d/%d sessions", len(sessions), b.host.Capacity()))

	now := b.now()
	for _, s := range sessions {
		marker := " "
		if s.RemoteAddr == conn.RemoteAddr() {
			marker = "*"
		}
		transport.WriteLine(conn, fmt.Sprintf("%s [%d] %-21s connected %s ago, idle %s",
			marker, s.Index, s.RemoteAddr,
			FormatDuration(now.Sub(s.ConnectedAt)),
			FormatDuration(now.Sub(s.LastActivity)),
		))
	}
}

func (b *builtins) exit(conn transport.Connection, _ string) {
	transport.WriteLine(conn, "Bye.")
	conn.Close()
}

// FormatDuration renders d as e.g. "2d 3h 4m 5s", dropping leading zero units
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Truncate(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
