package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// streamConn holds the line queue and lifecycle shared by the network
// connections. The owning transport runs pump in a goroutine and supplies
// write and close functions.
type streamConn struct {
	remote string
	lines  chan string
	quit   chan struct{}

	closed    atomic.Bool
	broken    atomic.Bool
	eof       atomic.Bool
	closeOnce sync.Once
	closeErr  error

	writeMu sync.Mutex
	writeFn func(string) error
	closeFn func() error
}

func newStreamConn(remote string, writeFn func(string) error, closeFn func() error) *streamConn {
	return &streamConn{
		remote:  remote,
		lines:   make(chan string, lineQueueSize),
		quit:    make(chan struct{}),
		writeFn: writeFn,
		closeFn: closeFn,
	}
}

// pump feeds lines produced by next into the queue until next fails or the
// connection is closed. The queue is closed when pump returns.
func (c *streamConn) pump(next func() ([]string, error)) {
	defer func() {
		c.eof.Store(true)
		close(c.lines)
	}()
	for {
		batch, err := next()
		for _, line := range batch {
			select {
			case c.lines <- line:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *streamConn) IsConnected() bool {
	if c.closed.Load() || c.broken.Load() {
		return false
	}
	// Input that arrived before the peer hung up still belongs to a live
	// session until it has been consumed.
	if c.eof.Load() {
		return len(c.lines) > 0
	}
	return true
}

func (c *streamConn) HasAvailableLine() bool {
	return !c.closed.Load() && len(c.lines) > 0
}

func (c *streamConn) ReadLine(timeout time.Duration) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	if timeout <= 0 {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return "", ErrClosed
			}
			return line, nil
		default:
			return "", ErrReadTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", ErrClosed
		}
		return line, nil
	case <-c.quit:
		return "", ErrClosed
	case <-timer.C:
		return "", ErrReadTimeout
	}
}

func (c *streamConn) Write(s string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.writeFn(s); err != nil {
		c.broken.Store(true)
		return transportError(err, "transport.Write")
	}
	return nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.quit)
		c.closeErr = c.closeFn()
	})
	return c.closeErr
}

func (c *streamConn) RemoteAddr() string {
	return c.remote
}
