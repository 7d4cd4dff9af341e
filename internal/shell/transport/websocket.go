package transport

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketListener accepts shell sessions over WebSocket. It is an
// http.Handler, so it can be mounted on an existing mux or served on its
// own through ListenWebSocket.
type WebSocketListener struct {
	upgrader     websocket.Upgrader
	pending      chan *websocket.Conn
	quit         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration

	srv  *http.Server
	addr string
}

// NewWebSocketListener creates a handler-only listener. Connections arrive
// once the handler is mounted and a client upgrades.
func NewWebSocketListener() *WebSocketListener {
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pending:      make(chan *websocket.Conn, 4),
		quit:         make(chan struct{}),
		writeTimeout: DefaultWriteTimeout,
	}
}

// ListenWebSocket serves the listener on addr under path
func ListenWebSocket(addr, path string) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, transportError(err, "transport.ListenWebSocket")
	}

	l := NewWebSocketListener()
	mux := http.NewServeMux()
	mux.Handle(path, l)

	l.addr = ln.Addr().String()
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go l.srv.Serve(ln)
	return l, nil
}

// ServeHTTP upgrades the request and queues the session for Accept
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.quit:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case l.pending <- ws:
	case <-l.quit:
		ws.Close()
	case <-r.Context().Done():
		ws.Close()
	}
}

// HasPending reports whether an upgraded session is waiting
func (l *WebSocketListener) HasPending() bool {
	return len(l.pending) > 0
}

// Accept returns the oldest waiting session
func (l *WebSocketListener) Accept() (Connection, error) {
	select {
	case ws := <-l.pending:
		return newWebSocketConn(ws, l.writeTimeout), nil
	case <-l.quit:
		return nil, ErrClosed
	default:
		return nil, ErrNoPending
	}
}

// Close stops the HTTP server if this listener owns one and drops
// sessions that never got a slot.
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.quit)
		if l.srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err = l.srv.Shutdown(ctx)
		}
		for {
			select {
			case ws := <-l.pending:
				ws.Close()
			default:
				return
			}
		}
	})
	return err
}

// Addr returns the bound address, or "websocket" for a handler-only listener
func (l *WebSocketListener) Addr() string {
	if l.addr == "" {
		return "websocket"
	}
	return l.addr
}

type webSocketConn struct {
	*streamConn
	ws      *websocket.Conn
	timeout time.Duration
}

// newWebSocketConn treats each text frame as one or more lines; the end of
// a frame also ends a line.
func newWebSocketConn(ws *websocket.Conn, writeTimeout time.Duration) *webSocketConn {
	c := &webSocketConn{ws: ws, timeout: writeTimeout}
	c.streamConn = newStreamConn(ws.RemoteAddr().String(), c.write, c.close)

	ws.SetReadLimit(MaxLineLength * 4)
	go c.pump(func() ([]string, error) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		return splitLines(string(data)), nil
	})
	return c
}

func (c *webSocketConn) write(s string) error {
	if c.timeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(s))
}

func (c *webSocketConn) close() error {
	// best effort, the peer may already be gone
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

func splitLines(frame string) []string {
	frame = strings.TrimSuffix(frame, "\n")
	parts := strings.Split(frame, "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}
