// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     console
// Description: Client connections to a shell endpoint
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package console

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	tserror "github.com/msto63/telshell/pkg/core/error"
)

// Session is a client connection to a shell server. Output arrives as raw
// chunks in server order; the channel is closed when the connection ends.
type Session interface {
	Send(line string) error
	Output() <-chan string
	Err() error
	Close() error
}

// Dial connects to addr. network is "tcp" or "websocket"; for websocket,
// addr may be a full ws:// URL or host:port combined with path.
func Dial(ctx context.Context, network, addr, path string) (Session, error) {
	switch network {
	case "", "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, dialError(err, addr)
		}
		return newTCPSession(conn), nil
	case "websocket", "ws":
		url := addr
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			url = "ws://" + addr + path
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, dialError(err, url)
		}
		return newWebSocketSession(conn), nil
	default:
		return nil, tserror.Newf("unsupported network %q", network).
			WithCode(tserror.CodeInvalidInput).
			WithOperation("console.Dial")
	}
}

func dialError(err error, addr string) error {
	return tserror.Wrap(err, "failed to connect").
		WithCode(tserror.CodeTransportError).
		WithOperation("console.Dial").
		WithDetail("address", addr)
}

// baseSession carries the output channel and terminal error. done is
// closed by Close so a reader blocked on a full output channel can exit.
type baseSession struct {
	output    chan string
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newBaseSession() baseSession {
	return baseSession{
		output:   make(chan string, 64),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (s *baseSession) Output() <-chan string {
	return s.output
}

func (s *baseSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *baseSession) finish(err error) {
	s.mu.Lock()
	if err != nil && err != io.EOF {
		s.err = err
	}
	s.mu.Unlock()
	close(s.output)
	close(s.readDone)
}

// emit hands a chunk to the model; false once the session is closed
func (s *baseSession) emit(chunk string) bool {
	select {
	case s.output <- chunk:
		return true
	case <-s.done:
		return false
	}
}

func (s *baseSession) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *baseSession) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

type tcpSession struct {
	baseSession
	conn net.Conn
}

func newTCPSession(conn net.Conn) *tcpSession {
	s := &tcpSession{baseSession: newBaseSession(), conn: conn}
	go s.read()
	return s
}

func (s *tcpSession) read() {
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 && !s.emit(string(buf[:n])) {
			s.finish(nil)
			return
		}
		if err != nil {
			if isClosedErr(err) || s.closing() {
				err = nil
			}
			s.finish(err)
			return
		}
	}
}

func (s *tcpSession) Send(line string) error {
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := s.conn.Write([]byte(line + "\r\n"))
	return err
}

func (s *tcpSession) Close() error {
	s.shutdown()
	return s.conn.Close()
}

type webSocketSession struct {
	baseSession
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWebSocketSession(conn *websocket.Conn) *webSocketSession {
	s := &webSocketSession{baseSession: newBaseSession(), conn: conn}
	go s.read()
	return s
}

func (s *webSocketSession) read() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || isClosedErr(err) || s.closing() {
				err = nil
			}
			s.finish(err)
			return
		}
		if !s.emit(string(data)) {
			s.finish(nil)
			return
		}
	}
}

func (s *webSocketSession) Send(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(line+"\n"))
}

func (s *webSocketSession) Close() error {
	s.shutdown()
	return s.conn.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
