// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     server
// Description: Session dispatcher and management surface of the shell
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

// Package server runs the shell: it owns the slot pool, accepts sessions
// from a transport listener and dispatches their input lines against a
// command registry.
//
// The dispatcher is a cooperative poll loop. Each PollOnce pass reaps dead
// or idle sessions, accepts at most one pending connection and services
// every session that has a complete line buffered. Faults of one session
// release that session only; PollOnce itself never fails.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msto63/telshell/internal/shell/registry"
	"github.com/msto63/telshell/internal/shell/slots"
	"github.com/msto63/telshell/internal/shell/transport"
	tserror "github.com/msto63/telshell/pkg/core/error"
	"github.com/msto63/telshell/pkg/core/logging"
)

const (
	// DefaultPort is used by StartServer(0)
	DefaultPort = 23

	// DefaultTimeout is the idle timeout given to new sessions
	DefaultTimeout = 5 * time.Minute

	// DefaultPrompt is the prompt before the trailing space added on the wire
	DefaultPrompt = "root@esp:~$ "

	// DefaultPollInterval is the tick used by Serve when none is given
	DefaultPollInterval = 10 * time.Millisecond

	unknownCommandPrefix = "Unknown command: "
)

// DefaultBanner is written to every new session before the first prompt
const DefaultBanner = "   _____ ____  _____ _____   _______ ______ _____  \n" +
	"  / ____/ __ \\|  __ \\_   _| |__   __|  ____|  __ \\ \n" +
	" | |   | |  | | |__) || |      | |  | |__  | |__) |\n" +
	" | |   | |  | |  ___/ | |      | |  |  __| |  _  / \n" +
	" | |___| |__| | |    _| |_     | |  | |____| | \\ \\ \n" +
	"  \\_____\\____/|_|   |_____|    |_|  |______|_|  \\_\\\n"

// ListenFunc binds a listener for StartServer
type ListenFunc func(addr string) (transport.Listener, error)

// Option configures a Server
type Option func(*Server)

// WithRegistry shares an existing registry with the server
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithBanner replaces DefaultBanner
func WithBanner(banner string) Option {
	return func(s *Server) {
		s.banner = banner
	}
}

// WithMaxClients sets the slot pool capacity
func WithMaxClients(n int) Option {
	return func(s *Server) {
		s.maxClients = n
	}
}

// WithTimeout sets the idle timeout for new sessions; 0 disables it
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the server logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObserver receives session and command events
func WithObserver(o Observer) Option {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithListenFunc replaces the TCP listener used by StartServer
func WithListenFunc(fn ListenFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.listen = fn
		}
	}
}

// WithHost sets the interface StartServer binds to
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// WithClock replaces time.Now for timestamps and idle accounting
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server is the shell state: registry, slot pool, presentation settings
// and the bound listener.
type Server struct {
	// passMu serializes dispatch passes against StopServer
	passMu sync.Mutex

	mu        sync.RWMutex
	banner    string
	prompt    string
	timeout   time.Duration
	listener  transport.Listener
	startedAt time.Time

	registry   *registry.Registry
	pool       *slots.Pool
	maxClients int
	host       string
	listen     ListenFunc
	logger     *logging.Logger
	observer   Observer
	now        func() time.Time

	exhaustedLogged bool
}

// New creates a stopped server
func New(opts ...Option) *Server {
	s := &Server{
		banner:     DefaultBanner,
		prompt:     DefaultPrompt,
		timeout:    DefaultTimeout,
		maxClients: slots.DefaultCapacity,
		observer:   nopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logging.New("shell")
	}
	if s.registry == nil {
		s.registry = registry.New(registry.WithLogger(s.logger))
	}
	if s.listen == nil {
		s.listen = func(addr string) (transport.Listener, error) {
			return transport.ListenTCP(addr)
		}
	}
	s.pool = slots.NewPool(s.maxClients, slots.WithClock(s.now))
	return s
}

// Registry returns the command registry
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// RegisterCommand adds a command to the registry
func (s *Server) RegisterCommand(name string, handler registry.Handler, help string) error {
	return s.registry.Register(name, handler, help)
}

// RegisterFunc adds a function command to the registry
func (s *Server) RegisterFunc(name string, fn func(conn transport.Connection, args string), help string) error {
	return s.registry.RegisterFunc(name, fn, help)
}

// RegisterAlias makes alias resolve to an existing or later command
func (s *Server) RegisterAlias(alias, target string) error {
	return s.registry.Alias(alias, target)
}

// SetPrompt sets the prompt to "user@device:~$ "
func (s *Server) SetPrompt(user, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = user + "@" + device + ":~$ "
}

// Prompt returns the current prompt without the wire padding
func (s *Server) Prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// SetBanner replaces the banner for sessions accepted from now on
func (s *Server) SetBanner(banner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = banner
}

// SetTimeout sets the idle timeout applied to sessions accepted from now
// on. Existing sessions keep the timeout they were accepted with.
func (s *Server) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Timeout returns the idle timeout for new sessions
func (s *Server) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// StartServer binds a TCP listener on port; port 0 means DefaultPort
func (s *Server) StartServer(port int) error {
	if port < 0 || port > 65535 {
		return tserror.Newf("invalid port %d", port).
			WithCode(tserror.CodeInvalidInput).
			WithOperation("server.StartServer")
	}
	if port == 0 {
		port = DefaultPort
	}

	if s.Running() {
		return errAlreadyStarted()
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	ln, err := s.listen(addr)
	if err != nil {
		return tserror.Wrap(err, "failed to start shell listener").
			WithCode(tserror.CodeTransportError).
			WithOperation("server.StartServer").
			WithDetail("address", addr)
	}
	if err := s.StartListener(ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// StartListener attaches an already bound listener
func (s *Server) StartListener(ln transport.Listener) error {
	if ln == nil {
		return tserror.New("listener is nil").
			WithCode(tserror.CodeInvalidInput).
			WithOperation("server.StartListener")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errAlreadyStarted()
	}
	s.listener = ln
	s.startedAt = s.now()
	s.logger.Info("shell server started", "address", ln.Addr(), "max_clients", s.pool.Capacity())
	return nil
}

func errAlreadyStarted() error {
	return tserror.New("server already started").
		WithCode(tserror.CodeInvalidOperation).
		WithOperation("server.StartServer")
}

// StopServer closes every session and the listener. Stopping a stopped
// server is a no-op. It must not be called from a command handler.
func (s *Server) StopServer() error {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.startedAt = time.Time{}
	s.mu.Unlock()

	if ln == nil {
		return nil
	}

	for _, ev := range s.pool.CloseAll(slots.ReasonShutdown) {
		s.sessionClosed(ev)
	}
	s.exhaustedLogged = false

	err := ln.Close()
	s.logger.Info("shell server stopped", "address", ln.Addr())
	if err != nil {
		return tserror.Wrap(err, "failed to close shell listener").
			WithCode(tserror.CodeTransportError).
			WithOperation("server.StopServer")
	}
	return nil
}

// Running reports whether a listener is bound
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil
}

// Addr returns the listener address or "" when stopped
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

// StartedAt returns when the listener was bound; zero when stopped
func (s *Server) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Sessions lists the occupied slots
func (s *Server) Sessions() []slots.SlotInfo {
	return s.pool.Snapshot()
}

// Capacity returns the number of slots
func (s *Server) Capacity() int {
	return s.pool.Capacity()
}

// Prioritize moves slot index to the front of the service order
func (s *Server) Prioritize(index int) error {
	return s.pool.Prioritize(index)
}

// Serve calls PollOnce every interval until ctx is done, then stops the
// server.
func (s *Server) Serve(ctx context.Context, interval time.Duration) error {
	if !s.Running() {
		return tserror.New("server not started").
			WithCode(tserror.CodeInvalidOperation).
			WithOperation("server.Serve")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.StopServer()
		case <-ticker.C:
			s.PollOnce()
		}
	}
}

// PollOnce runs one dispatch pass: reap, accept, service. It does nothing
// while the server is stopped.
func (s *Server) PollOnce() {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	s.mu.RLock()
	ln := s.listener
	banner := s.banner
	prompt := s.prompt + " "
	timeout := s.timeout
	s.mu.RUnlock()

	if ln == nil {
		return
	}

	for _, ev := range s.pool.Sweep() {
		s.sessionClosed(ev)
	}

	s.accept(ln, banner, prompt, timeout)

	for _, idx := range s.pool.ServiceOrder() {
		s.service(idx, prompt)
	}
}

func (s *Server) accept(ln transport.Listener, banner, prompt string, timeout time.Duration) {
	if !ln.HasPending() {
		return
	}
	if s.pool.Free() == 0 {
		if !s.exhaustedLogged {
			s.exhaustedLogged = true
			err := tserror.Newf("all %d slots are in use, connection left pending", s.pool.Capacity()).
				WithCode(tserror.CodePoolExhausted).
				WithOperation("server.accept")
			s.logger.LogError(err)
		}
		return
	}
	s.exhaustedLogged = false

	conn, err := ln.Accept()
	if err != nil {
		if !tserror.HasCode(err, tserror.CodeNotFound) {
			s.logger.WarnWithErr("accept failed", err)
		}
		return
	}

	sessionID := uuid.NewString()
	idx, err := s.pool.Acquire(conn, sessionID, timeout)
	if err != nil {
		s.logger.LogError(err)
		conn.Close()
		return
	}

	s.logger.Audit("session opened", "slot", idx, "session", sessionID, "remote", conn.RemoteAddr())
	s.observer.SessionOpened(SessionEvent{
		Slot:       idx,
		SessionID:  sessionID,
		RemoteAddr: conn.RemoteAddr(),
		Time:       s.now(),
	})

	if err := transport.WriteLine(conn, banner); err != nil {
		s.fault(idx, err)
		return
	}
	if err := conn.Write(prompt); err != nil {
		s.fault(idx, err)
	}
}

func (s *Server) service(idx int, prompt string) {
	slot, ok := s.pool.Get(idx)
	if !ok || !slot.Occupied || slot.Conn == nil {
		return
	}
	conn := slot.Conn
	if !conn.IsConnected() || !conn.HasAvailableLine() {
		return
	}

	line, err := conn.ReadLine(slot.Timeout)
	if err != nil {
		if tserror.HasCode(err, tserror.CodeTimeout) {
			return
		}
		s.fault(idx, err)
		return
	}
	s.pool.Touch(idx)
	s.logger.Trace("line received", "slot", idx, "line", line)

	input := strings.TrimSpace(line)
	if input != "" {
		if err := s.dispatch(idx, slot, input); err != nil {
			s.fault(idx, err)
			return
		}
	}

	// the handler may have ended the session
	if !conn.IsConnected() {
		return
	}
	if err := conn.Write(prompt); err != nil {
		s.fault(idx, err)
	}
}

func (s *Server) dispatch(idx int, slot slots.Slot, input string) (err error) {
	start := s.now()
	ev := CommandEvent{
		Slot:       idx,
		SessionID:  slot.SessionID,
		RemoteAddr: slot.Conn.RemoteAddr(),
		Input:      input,
		Time:       start,
	}

	cmd, ok := s.registry.Resolve(input)
	if !ok {
		s.logger.Debug("unknown command", "slot", idx, "input", input)
		s.observer.CommandExecuted(ev)
		return transport.WriteLine(slot.Conn, unknownCommandPrefix+input)
	}

	ev.Command = cmd.Name
	ev.Known = true
	defer func() {
		if r := recover(); r != nil {
			err = tserror.Newf("command %q panicked: %v", cmd.Name, r).
				WithCode(tserror.CodeInternal).
				WithOperation("server.dispatch").
				WithDetail("command", cmd.Name)
		}
		ev.Duration = s.now().Sub(start)
		s.observer.CommandExecuted(ev)
	}()

	s.logger.Debug("command", "slot", idx, "command", cmd.Name)
	tracked := &trackedConn{Connection: slot.Conn}
	cmd.Handler.Handle(tracked, "")
	return tracked.err
}

// trackedConn remembers the first write error a handler ran into, so the
// session can be released even when the handler ignored it.
type trackedConn struct {
	transport.Connection
	err error
}

func (c *trackedConn) Write(s string) error {
	err := c.Connection.Write(s)
	if err != nil && c.err == nil && err != transport.ErrClosed {
		c.err = err
	}
	return err
}

// fault releases a slot after a per-session failure
func (s *Server) fault(idx int, err error) {
	// handler panics keep INTERNAL; anything not already session-scoped is
	// reported as a transport fault of this slot
	if code := tserror.GetCode(err); code != tserror.CodeInternal && !code.IsConnectionScoped() {
		err = tserror.Wrap(err, "session failure").WithCode(tserror.CodeTransportError)
	}
	wrapped := tserror.Wrap(err, fmt.Sprintf("releasing slot %d", idx)).
		WithOperation("server.PollOnce").
		WithDetail("slot", idx)
	s.logger.LogError(wrapped)

	if ev, ok := s.pool.Release(idx, slots.ReasonTransport); ok {
		s.sessionClosed(ev)
	}
}

func (s *Server) sessionClosed(ev slots.Eviction) {
	s.logger.Audit("session closed",
		"slot", ev.Index,
		"session", ev.SessionID,
		"remote", ev.RemoteAddr,
		"reason", string(ev.Reason),
		"duration", ev.Duration.String(),
	)
	s.observer.SessionClosed(SessionEvent{
		Slot:       ev.Index,
		SessionID:  ev.SessionID,
		RemoteAddr: ev.RemoteAddr,
		Reason:     string(ev.Reason),
		Duration:   ev.Duration,
		Time:       s.now(),
	})
}
