package cmd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/msto63/telshell/pkg/core/config"
	"github.com/msto63/telshell/pkg/core/health"
)

func freePort(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestCheckEndpoints(t *testing.T) {
	open, openPort := freePort(t)
	defer open.Close()
	closed, closedPort := freePort(t)
	closed.Close()

	cfg := config.Default()
	cfg.Shell.Host = "127.0.0.1"
	cfg.Shell.Port = openPort
	cfg.WebSocket.Enabled = true
	cfg.WebSocket.Host = "127.0.0.1"
	cfg.WebSocket.Port = closedPort
	statusTimeout = time.Second

	report := checkEndpoints(context.Background(), cfg)

	want := map[string]health.Status{
		"shell.tcp":       health.StatusHealthy,
		"shell.websocket": health.StatusUnhealthy,
	}
	if len(report.Checks) != len(want) {
		t.Fatalf("got %d checks, want %d: %+v", len(report.Checks), len(want), report.Checks)
	}
	for _, c := range report.Checks {
		if c.Status != want[c.Name] {
			t.Errorf("%s status = %s, want %s", c.Name, c.Status, want[c.Name])
		}
	}
}

func TestDialHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "localhost"},
		{"0.0.0.0", "localhost"},
		{"::", "localhost"},
		{"10.0.0.5", "10.0.0.5"},
	}
	for _, tt := range tests {
		if got := dialHost(tt.in); got != tt.want {
			t.Errorf("dialHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
