package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  []string
	}{
		{"single", "help", []string{"help"}},
		{"trailing newline", "help\n", []string{"help"}},
		{"crlf", "help\r\n", []string{"help"}},
		{"multiple", "help\r\nwho\nuptime", []string{"help", "who", "uptime"}},
		{"empty", "", []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitLines(tt.frame)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("splitLines(%q) = %q, want %q", tt.frame, got, tt.want)
			}
		})
	}
}

func TestWebSocketListenerRoundTrip(t *testing.T) {
	l := NewWebSocketListener()
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	waitFor(t, "pending session", l.HasPending)
	conn, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer conn.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte("help\nwho")); err != nil {
		t.Fatalf("client write error = %v", err)
	}
	for _, want := range []string{"help", "who"} {
		line, err := conn.ReadLine(2 * time.Second)
		if err != nil {
			t.Fatalf("ReadLine() error = %v", err)
		}
		if line != want {
			t.Errorf("ReadLine() = %q, want %q", line, want)
		}
	}

	if err := WriteLine(conn, "Unknown command: x"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read error = %v", err)
	}
	if string(data) != "Unknown command: x\r\n" {
		t.Errorf("message = %q", data)
	}

	client.Close()
	waitFor(t, "disconnect", func() bool { return !conn.IsConnected() })
}

func TestListenWebSocket(t *testing.T) {
	l, err := ListenWebSocket("127.0.0.1:0", "/shell")
	if err != nil {
		t.Fatalf("ListenWebSocket() error = %v", err)
	}
	defer l.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr()+"/shell", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	waitFor(t, "pending session", l.HasPending)
	if _, err := l.Accept(); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
}
