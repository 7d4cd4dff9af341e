package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// TCPOption configures a TCP listener
type TCPOption func(*TCPListener)

// WithBacklog sets how many accepted sockets may wait for a free slot
// before the listener stops pulling from the kernel queue.
func WithBacklog(n int) TCPOption {
	return func(l *TCPListener) {
		if n > 0 {
			l.backlog = n
		}
	}
}

// WithWriteTimeout bounds each write on accepted connections
func WithWriteTimeout(d time.Duration) TCPOption {
	return func(l *TCPListener) {
		l.writeTimeout = d
	}
}

// TCPListener is a non-blocking Listener over net.Listener
type TCPListener struct {
	ln           net.Listener
	pending      chan net.Conn
	quit         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	backlog      int
	writeTimeout time.Duration
}

// ListenTCP binds addr and starts accepting in the background
func ListenTCP(addr string, opts ...TCPOption) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, transportError(err, "transport.ListenTCP")
	}
	return NewTCPListener(ln, opts...), nil
}

// NewTCPListener wraps an already bound listener
func NewTCPListener(ln net.Listener, opts ...TCPOption) *TCPListener {
	l := &TCPListener{
		ln:           ln,
		quit:         make(chan struct{}),
		backlog:      4,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.pending = make(chan net.Conn, l.backlog)

	l.wg.Add(1)
	go l.acceptLoop()
	return l
}

func (l *TCPListener) acceptLoop() {
	defer l.wg.Done()

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff < time.Second {
				backoff *= 2
			}
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		select {
		case l.pending <- conn:
		case <-l.quit:
			conn.Close()
			return
		}
	}
}

// HasPending reports whether an accepted socket is waiting
func (l *TCPListener) HasPending() bool {
	return len(l.pending) > 0
}

// Accept returns the oldest waiting socket as a Connection
func (l *TCPListener) Accept() (Connection, error) {
	select {
	case conn := <-l.pending:
		return newTCPConn(conn, l.writeTimeout), nil
	case <-l.quit:
		return nil, ErrClosed
	default:
		return nil, ErrNoPending
	}
}

// Close stops the accept loop and drops sockets that never got a slot
func (l *TCPListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.quit)
		err = l.ln.Close()
		l.wg.Wait()
		for {
			select {
			case conn := <-l.pending:
				conn.Close()
			default:
				return
			}
		}
	})
	return err
}

// Addr returns the bound address
func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

type tcpConn struct {
	*streamConn
	conn    net.Conn
	timeout time.Duration
}

func newTCPConn(conn net.Conn, writeTimeout time.Duration) *tcpConn {
	c := &tcpConn{conn: conn, timeout: writeTimeout}
	c.streamConn = newStreamConn(conn.RemoteAddr().String(), c.write, conn.Close)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), MaxLineLength)
	go c.pump(func() ([]string, error) {
		if scanner.Scan() {
			return []string{scanner.Text()}, nil
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, net.ErrClosed
	})
	return c
}

func (c *tcpConn) write(s string) error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err := c.conn.Write([]byte(s))
	return err
}
