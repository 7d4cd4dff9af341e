package transport

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTCPListenerRoundTrip(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	waitFor(t, "pending connection", l.HasPending)
	conn, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer conn.Close()

	if _, err := client.Write([]byte("help\r\nwho\n")); err != nil {
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

	if err := WriteLine(conn, "Available commands:"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	reply, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("client read error = %v", err)
	}
	if reply != "Available commands:\r\n" {
		t.Errorf("reply = %q", reply)
	}
}

func TestTCPConnPeerHangup(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	waitFor(t, "pending connection", l.HasPending)
	conn, _ := l.Accept()
	defer conn.Close()

	client.Write([]byte("bye\n"))
	client.Close()

	line, err := conn.ReadLine(2 * time.Second)
	if err != nil || line != "bye" {
		t.Fatalf("ReadLine() = %q, %v", line, err)
	}
	waitFor(t, "disconnect", func() bool { return !conn.IsConnected() })
}

func TestTCPConnReadTimeout(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	waitFor(t, "pending connection", l.HasPending)
	conn, _ := l.Accept()
	defer conn.Close()

	start := time.Now()
	if _, err := conn.ReadLine(50 * time.Millisecond); err != ErrReadTimeout {
		t.Fatalf("ReadLine() error = %v, want ErrReadTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("ReadLine() exceeded its timeout by far")
	}
}

func TestTCPListenerClose(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	addr := l.Addr()
	if !strings.HasPrefix(addr, "127.0.0.1:") {
		t.Errorf("Addr() = %q", addr)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	l.Close()

	if _, err := l.Accept(); err != ErrClosed {
		t.Errorf("Accept() after Close error = %v, want ErrClosed", err)
	}
}
