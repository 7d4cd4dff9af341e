package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryListener is an in-process Listener. Clients obtained from Dial
// feed lines synchronously, which makes dispatcher passes deterministic.
type MemoryListener struct {
	name string

	mu      sync.Mutex
	pending []*memoryConn
	closed  bool
	dialed  int
}

// NewMemoryListener creates an in-memory listener identified by name
func NewMemoryListener(name string) *MemoryListener {
	return &MemoryListener{name: name}
}

// Dial queues a new connection and returns the client end
func (l *MemoryListener) Dial() (*MemoryClient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	l.dialed++
	client := &MemoryClient{}
	conn := &memoryConn{client: client}
	conn.streamConn = newStreamConn(fmt.Sprintf("%s#%d", l.name, l.dialed), client.write, client.closedByServer)
	client.conn = conn
	l.pending = append(l.pending, conn)
	return client, nil
}

func (l *MemoryListener) HasPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending) > 0
}

func (l *MemoryListener) Accept() (Connection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if len(l.pending) == 0 {
		return nil, ErrNoPending
	}
	conn := l.pending[0]
	l.pending = l.pending[1:]
	return conn, nil
}

func (l *MemoryListener) Close() error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.closed = true
	l.mu.Unlock()

	for _, conn := range pending {
		conn.Close()
	}
	return nil
}

func (l *MemoryListener) Addr() string {
	return "memory:" + l.name
}

type memoryConn struct {
	*streamConn
	client *MemoryClient
}

// MemoryClient is the peer side of an in-memory connection
type MemoryClient struct {
	conn *memoryConn

	mu           sync.Mutex
	output       strings.Builder
	hungUp       bool
	serverClosed atomic.Bool
	failWrites   atomic.Bool
}

var errWriteRefused = errors.New("write refused by peer")

// Send queues line as if the peer had typed it followed by a newline
func (c *MemoryClient) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hungUp || c.serverClosed.Load() {
		return ErrClosed
	}
	select {
	case c.conn.lines <- line:
		return nil
	default:
		return transportError(errors.New("line queue full"), "transport.MemoryClient.Send")
	}
}

// Disconnect hangs up from the peer side. Lines already sent stay readable.
func (c *MemoryClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hungUp {
		return
	}
	c.hungUp = true
	c.conn.eof.Store(true)
	close(c.conn.lines)
}

// Output returns everything the server wrote so far
func (c *MemoryClient) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

// TakeOutput returns and clears the captured output
func (c *MemoryClient) TakeOutput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.output.String()
	c.output.Reset()
	return out
}

// Closed reports whether the server closed the connection
func (c *MemoryClient) Closed() bool {
	return c.serverClosed.Load()
}

// FailWrites makes every following server write fail
func (c *MemoryClient) FailWrites(fail bool) {
	c.failWrites.Store(fail)
}

func (c *MemoryClient) write(s string) error {
	if c.failWrites.Load() {
		return errWriteRefused
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output.WriteString(s)
	return nil
}

func (c *MemoryClient) closedByServer() error {
	c.serverClosed.Store(true)
	return nil
}
