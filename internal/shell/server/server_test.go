package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msto63/telshell/internal/shell/registry"
	"github.com/msto63/telshell/internal/shell/transport"
	tserror "github.com/msto63/telshell/pkg/core/error"
	tslog "github.com/msto63/telshell/pkg/core/log"
	"github.com/msto63/telshell/pkg/core/logging"
)

const wirePrompt = "root@esp:~$  "

type recorder struct {
	mu       sync.Mutex
	opened   []SessionEvent
	closed   []SessionEvent
	commands []CommandEvent
}

func (r *recorder) SessionOpened(ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, ev)
}

func (r *recorder) SessionClosed(ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, ev)
}

func (r *recorder) CommandExecuted(ev CommandEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, ev)
}

func newMemoryServer(t *testing.T, opts ...Option) (*Server, *transport.MemoryListener) {
	t.Helper()
	s := New(opts...)
	l := transport.NewMemoryListener(t.Name())
	if err := s.StartListener(l); err != nil {
		t.Fatalf("StartListener() error = %v", err)
	}
	t.Cleanup(func() { s.StopServer() })
	return s, l
}

func connect(t *testing.T, s *Server, l *transport.MemoryListener) *transport.MemoryClient {
	t.Helper()
	client, err := l.Dial()
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	s.PollOnce()
	return client
}

func TestEndToEnd(t *testing.T) {
	s, l := newMemoryServer(t)
	s.RegisterFunc("status", func(conn transport.Connection, _ string) {
		transport.WriteLine(conn, "all good")
	}, "Shows status")

	client := connect(t, s, l)
	greeting := client.TakeOutput()
	if greeting != DefaultBanner+"\r\n"+wirePrompt {
		t.Fatalf("greeting = %q", greeting)
	}

	client.Send("help")
	s.PollOnce()
	want := "Available commands:\r\n" +
		"help - Shows a list of available commands.\r\n" +
		"status - Shows status\r\n" +
		wirePrompt
	if got := client.TakeOutput(); got != want {
		t.Errorf("help output = %q, want %q", got, want)
	}

	client.Send("  bogus \r")
	s.PollOnce()
	if got := client.TakeOutput(); got != "Unknown command: bogus\r\n"+wirePrompt {
		t.Errorf("unknown output = %q", got)
	}

	client.Send("status")
	s.PollOnce()
	if got := client.TakeOutput(); got != "all good\r\n"+wirePrompt {
		t.Errorf("status output = %q", got)
	}
}

func TestBlankInputOnlyReprintsPrompt(t *testing.T) {
	s, l := newMemoryServer(t)
	client := connect(t, s, l)
	client.TakeOutput()

	for _, input := range []string{"", "   ", "\t"} {
		client.Send(input)
		s.PollOnce()
		if got := client.TakeOutput(); got != wirePrompt {
			t.Errorf("output for %q = %q, want prompt only", input, got)
		}
	}
}

func TestAliasDispatch(t *testing.T) {
	s, l := newMemoryServer(t)
	calls := 0
	s.RegisterFunc("reboot", func(transport.Connection, string) { calls++ }, "")
	s.RegisterAlias("rb", "reboot")
	s.RegisterAlias("r", "rb")

	client := connect(t, s, l)
	client.TakeOutput()

	client.Send("rb")
	s.PollOnce()
	if calls != 1 {
		t.Errorf("alias calls = %d, want 1", calls)
	}

	client.Send("r")
	s.PollOnce()
	if calls != 1 {
		t.Error("aliases must not chain")
	}
	if got := client.TakeOutput(); !strings.Contains(got, "Unknown command: r\r\n") {
		t.Errorf("output = %q", got)
	}
}

func TestHandlerReceivesEmptyArgs(t *testing.T) {
	s, l := newMemoryServer(t)
	var gotArgs *string
	s.RegisterFunc("echo", func(_ transport.Connection, args string) { gotArgs = &args }, "")

	client := connect(t, s, l)
	client.Send("echo")
	s.PollOnce()

	if gotArgs == nil || *gotArgs != "" {
		t.Errorf("handler args = %v, want empty string", gotArgs)
	}
}

func TestPoolExhaustionLeavesConnectionPending(t *testing.T) {
	s, l := newMemoryServer(t, WithMaxClients(2))

	a := connect(t, s, l)
	connect(t, s, l)
	c := connect(t, s, l)

	if c.Output() != "" {
		t.Errorf("third client got output %q while the pool is full", c.Output())
	}
	if !l.HasPending() {
		t.Fatal("third connection should stay pending")
	}
	if c.Closed() {
		t.Fatal("pending connection must not be closed")
	}

	a.Disconnect()
	s.PollOnce()

	if !strings.HasSuffix(c.Output(), wirePrompt) {
		t.Errorf("third client output = %q, want greeting once a slot freed", c.Output())
	}
	if len(s.Sessions()) != 2 {
		t.Errorf("Sessions() = %d, want 2", len(s.Sessions()))
	}
}

func TestDisconnectIsolation(t *testing.T) {
	rec := &recorder{}
	s, l := newMemoryServer(t, WithObserver(rec))

	a := connect(t, s, l)
	b := connect(t, s, l)
	b.TakeOutput()

	a.Disconnect()
	b.Send("help")
	s.PollOnce()

	if !strings.HasPrefix(b.Output(), "Available commands:") {
		t.Errorf("surviving client output = %q", b.Output())
	}
	if len(rec.closed) != 1 || rec.closed[0].Reason != "disconnected" {
		t.Errorf("closed events = %+v", rec.closed)
	}
	if len(s.Sessions()) != 1 {
		t.Errorf("Sessions() = %d, want 1", len(s.Sessions()))
	}
}

func TestWriteFailureReleasesOnlyThatSlot(t *testing.T) {
	rec := &recorder{}
	s, l := newMemoryServer(t, WithObserver(rec))

	a := connect(t, s, l)
	b := connect(t, s, l)
	b.TakeOutput()

	a.FailWrites(true)
	a.Send("help")
	b.Send("help")
	s.PollOnce()

	if !a.Closed() {
		t.Error("slot with failing writes should be released")
	}
	if b.Closed() || !strings.HasPrefix(b.Output(), "Available commands:") {
		t.Errorf("other session affected: closed=%v output=%q", b.Closed(), b.Output())
	}
	if len(rec.closed) != 1 || rec.closed[0].Reason != "transport_error" {
		t.Errorf("closed events = %+v", rec.closed)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	rec := &recorder{}
	s, l := newMemoryServer(t, WithObserver(rec))
	s.RegisterFunc("crash", func(transport.Connection, string) { panic("boom") }, "")

	a := connect(t, s, l)
	b := connect(t, s, l)
	b.TakeOutput()

	a.Send("crash")
	b.Send("help")
	s.PollOnce()

	if !a.Closed() {
		t.Error("panicking session should be released")
	}
	if !strings.HasPrefix(b.Output(), "Available commands:") {
		t.Errorf("other session output = %q", b.Output())
	}
	if len(rec.commands) != 2 || rec.commands[0].Command != "crash" {
		t.Errorf("command events = %+v", rec.commands)
	}
}

func TestFaultLogsSessionCode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		setup    func(s *Server, c *transport.MemoryClient)
		wantCode tserror.Code
	}{
		{
			name:     "write failure",
			input:    "help",
			setup:    func(_ *Server, c *transport.MemoryClient) { c.FailWrites(true) },
			wantCode: tserror.CodeTransportError,
		},
		{
			name:  "handler panic",
			input: "crash",
			setup: func(s *Server, _ *transport.MemoryClient) {
				s.RegisterFunc("crash", func(transport.Connection, string) { panic("boom") }, "")
			},
			wantCode: tserror.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logging.Wrap(tslog.NewWithConfig(tslog.Config{
				Level:  tslog.LevelDebug,
				Format: tslog.FormatJSON,
				Output: &buf,
				Name:   "shell",
			}))
			s, l := newMemoryServer(t, WithLogger(logger))
			client := connect(t, s, l)
			tt.setup(s, client)

			client.Send(tt.input)
			s.PollOnce()

			if !client.Closed() {
				t.Fatal("faulted session should be released")
			}

			var codes []string
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				var entry map[string]interface{}
				if json.Unmarshal([]byte(line), &entry) != nil {
					continue
				}
				if code, ok := entry["error_code"].(string); ok {
					codes = append(codes, code)
					if entry["error_category"] == nil {
						t.Errorf("error_category missing in %s", line)
					}
				}
			}
			if len(codes) != 1 || codes[0] != string(tt.wantCode) {
				t.Errorf("logged error codes = %v, want [%s]", codes, tt.wantCode)
			}
		})
	}
}

func TestHandlerEndsSession(t *testing.T) {
	s, l := newMemoryServer(t)
	s.RegisterFunc("exit", func(conn transport.Connection, _ string) {
		transport.WriteLine(conn, "bye")
		conn.Close()
	}, "")

	client := connect(t, s, l)
	client.TakeOutput()
	client.Send("exit")
	s.PollOnce()

	if got := client.TakeOutput(); got != "bye\r\n" {
		t.Errorf("output = %q, want no prompt after exit", got)
	}
	s.PollOnce()
	if len(s.Sessions()) != 0 {
		t.Errorf("Sessions() = %d, want 0", len(s.Sessions()))
	}
}

func TestIdleSessionEvicted(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	rec := &recorder{}
	s, l := newMemoryServer(t, WithClock(clock), WithTimeout(100*time.Millisecond), WithObserver(rec))
	client := connect(t, s, l)

	advance(50 * time.Millisecond)
	client.Send("")
	s.PollOnce()
	advance(80 * time.Millisecond)
	s.PollOnce()
	if client.Closed() {
		t.Fatal("activity should reset the idle timer")
	}

	advance(30 * time.Millisecond)
	s.PollOnce()
	if !client.Closed() {
		t.Fatal("idle session should be closed")
	}
	if len(rec.closed) != 1 || rec.closed[0].Reason != "idle" {
		t.Errorf("closed events = %+v", rec.closed)
	}
}

func TestSetTimeoutAffectsLaterSessions(t *testing.T) {
	s, l := newMemoryServer(t)
	connect(t, s, l)
	s.SetTimeout(time.Second)
	connect(t, s, l)

	sessions := s.Sessions()
	if sessions[0].Timeout != DefaultTimeout || sessions[1].Timeout != time.Second {
		t.Errorf("timeouts = %v, %v", sessions[0].Timeout, sessions[1].Timeout)
	}
}

func TestSetPromptAndBanner(t *testing.T) {
	s, l := newMemoryServer(t)
	s.SetPrompt("admin", "gateway")
	s.SetBanner("welcome")

	client := connect(t, s, l)
	if got := client.Output(); got != "welcome\r\nadmin@gateway:~$  " {
		t.Errorf("greeting = %q", got)
	}
}

func TestServiceOrder(t *testing.T) {
	s, l := newMemoryServer(t)
	var order []string
	s.RegisterFunc("who-am-i", func(conn transport.Connection, _ string) {
		order = append(order, conn.RemoteAddr())
	}, "")

	a := connect(t, s, l)
	b := connect(t, s, l)
	if err := s.Prioritize(1); err != nil {
		t.Fatalf("Prioritize() error = %v", err)
	}
	if err := s.Prioritize(7); !tserror.HasCode(err, tserror.CodeInvalidInput) {
		t.Errorf("Prioritize(7) error = %v, want INVALID_INPUT", err)
	}

	a.Send("who-am-i")
	b.Send("who-am-i")
	s.PollOnce()

	if strings.Join(order, ",") != t.Name()+"#2,"+t.Name()+"#1" {
		t.Errorf("service order = %v", order)
	}
}

func TestStartStop(t *testing.T) {
	s := New()
	if s.Running() {
		t.Fatal("new server should be stopped")
	}
	s.PollOnce()

	l := transport.NewMemoryListener("startstop")
	if err := s.StartListener(l); err != nil {
		t.Fatalf("StartListener() error = %v", err)
	}
	if err := s.StartListener(transport.NewMemoryListener("again")); !tserror.HasCode(err, tserror.CodeInvalidOperation) {
		t.Errorf("second start error = %v, want INVALID_OPERATION", err)
	}
	if err := s.StartServer(2323); !tserror.HasCode(err, tserror.CodeInvalidOperation) {
		t.Errorf("StartServer() on running server error = %v, want INVALID_OPERATION", err)
	}

	a := connect(t, s, l)
	b := connect(t, s, l)

	if err := s.StopServer(); err != nil {
		t.Fatalf("StopServer() error = %v", err)
	}
	if !a.Closed() || !b.Closed() {
		t.Error("StopServer should close every session")
	}
	if s.Running() || !s.StartedAt().IsZero() {
		t.Error("server should report stopped")
	}
	if err := s.StopServer(); err != nil {
		t.Errorf("second StopServer() error = %v", err)
	}
}

func TestStartServerDefaultPort(t *testing.T) {
	var gotAddr string
	s := New(WithHost("127.0.0.1"), WithListenFunc(func(addr string) (transport.Listener, error) {
		gotAddr = addr
		return transport.NewMemoryListener(addr), nil
	}))
	defer s.StopServer()

	if err := s.StartServer(0); err != nil {
		t.Fatalf("StartServer(0) error = %v", err)
	}
	if gotAddr != "127.0.0.1:23" {
		t.Errorf("listen address = %q, want 127.0.0.1:23", gotAddr)
	}
	if err := New().StartServer(70000); !tserror.HasCode(err, tserror.CodeInvalidInput) {
		t.Errorf("StartServer(70000) error = %v, want INVALID_INPUT", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s, l := newMemoryServer(t)
	client, _ := l.Dial()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.HasSuffix(client.Output(), wirePrompt) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !client.Closed() {
		t.Error("session should be closed when Serve stops")
	}
	if err := New().Serve(context.Background(), 0); !tserror.HasCode(err, tserror.CodeInvalidOperation) {
		t.Errorf("Serve() on stopped server error = %v", err)
	}
}

func TestSharedRegistry(t *testing.T) {
	reg := registry.New()
	reg.RegisterFunc("ping", func(conn transport.Connection, _ string) {
		transport.WriteLine(conn, "pong")
	}, "")

	s, l := newMemoryServer(t, WithRegistry(reg))
	if s.Registry() != reg {
		t.Fatal("Registry() should return the shared registry")
	}
	client := connect(t, s, l)
	client.TakeOutput()
	client.Send("ping")
	s.PollOnce()
	if got := client.Output(); got != "pong\r\n"+wirePrompt {
		t.Errorf("output = %q", got)
	}
}

func TestTCPEndToEnd(t *testing.T) {
	s := New(WithHost("127.0.0.1"), WithListenFunc(func(string) (transport.Listener, error) {
		return transport.ListenTCP("127.0.0.1:0")
	}))
	if err := s.StartServer(2323); err != nil {
		t.Fatalf("StartServer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, time.Millisecond)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)

	readUntil := func(suffix string) string {
		t.Helper()
		var sb strings.Builder
		for !strings.HasSuffix(sb.String(), suffix) {
			b, err := reader.ReadByte()
			if err != nil {
				t.Fatalf("read error = %v after %q", err, sb.String())
			}
			sb.WriteByte(b)
		}
		return sb.String()
	}

	if got := readUntil(wirePrompt); !strings.HasPrefix(got, DefaultBanner) {
		t.Errorf("greeting = %q", got)
	}

	conn.Write([]byte("bogus\r\n"))
	if got := readUntil(wirePrompt); got != "Unknown command: bogus\r\n"+wirePrompt {
		t.Errorf("reply = %q", got)
	}
}
