// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     slots
// Description: Fixed-capacity connection slot table
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

// Package slots manages the fixed table of client sessions a shell server
// can hold at once.
//
// Slots are addressed by index and never grow. Acquire always fills the
// lowest free index; the service order used by the dispatcher is kept
// separately so a slot can be prioritized without moving its session.
package slots

import (
	"sync"
	"time"

	"github.com/msto63/telshell/internal/shell/transport"
	tserror "github.com/msto63/telshell/pkg/core/error"
)

// DefaultCapacity is the number of concurrent sessions when none is given
const DefaultCapacity = 5

// Reason explains why a slot was freed
type Reason string

const (
	ReasonDisconnected Reason = "disconnected"
	ReasonIdle         Reason = "idle"
	ReasonTransport    Reason = "transport_error"
	ReasonClosed       Reason = "closed"
	ReasonShutdown     Reason = "shutdown"
)

// Slot is one entry of the table
type Slot struct {
	Conn         transport.Connection
	SessionID    string
	Occupied     bool
	ConnectedAt  time.Time
	LastActivity time.Time
	Timeout      time.Duration
}

// SlotInfo is a read-only view of an occupied slot
type SlotInfo struct {
	Index        int           `json:"index"`
	SessionID    string        `json:"session_id"`
	RemoteAddr   string        `json:"remote_addr"`
	ConnectedAt  time.Time     `json:"connected_at"`
	LastActivity time.Time     `json:"last_activity"`
	Timeout      time.Duration `json:"timeout"`
}

// Eviction describes a slot freed by Sweep or Release
type Eviction struct {
	Index      int
	SessionID  string
	RemoteAddr string
	Reason     Reason
	Duration   time.Duration
}

// Option configures a Pool
type Option func(*Pool)

// WithClock replaces time.Now, mainly for idle-timeout tests
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// Pool is the slot table
type Pool struct {
	mu    sync.Mutex
	slots []Slot
	order []int
	now   func() time.Time
}

// NewPool creates a pool with capacity slots; capacity < 1 means
// DefaultCapacity.
func NewPool(capacity int, opts ...Option) *Pool {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		slots: make([]Slot, capacity),
		order: make([]int, capacity),
		now:   time.Now,
	}
	for i := range p.order {
		p.order[i] = i
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capacity returns the fixed number of slots
func (p *Pool) Capacity() int {
	return len(p.slots)
}

// Free returns how many slots could accept a connection right now
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for i := range p.slots {
		if p.isFree(i) {
			n++
		}
	}
	return n
}

// Acquire places conn into the lowest free slot. A slot whose previous
// connection dropped counts as free; that connection is closed before
// Acquire returns.
func (p *Pool) Acquire(conn transport.Connection, sessionID string, timeout time.Duration) (int, error) {
	if conn == nil {
		return -1, tserror.New("connection is nil").
			WithCode(tserror.CodeInvalidInput).
			WithOperation("slots.Acquire")
	}

	p.mu.Lock()
	for i := range p.slots {
		if !p.isFree(i) {
			continue
		}
		prev := p.slots[i].Conn
		now := p.now()
		p.slots[i] = Slot{
			Conn:         conn,
			SessionID:    sessionID,
			Occupied:     true,
			ConnectedAt:  now,
			LastActivity: now,
			Timeout:      timeout,
		}
		p.mu.Unlock()

		// closed outside the lock; a slow close must not stall Snapshot readers
		if prev != nil {
			prev.Close()
		}
		return i, nil
	}
	p.mu.Unlock()

	return -1, tserror.Newf("all %d slots are in use", len(p.slots)).
		WithCode(tserror.CodePoolExhausted).
		WithOperation("slots.Acquire").
		WithDetail("capacity", len(p.slots))
}

// Sweep frees every occupied slot whose connection is gone or whose idle
// time exceeds its timeout, closing the connection. A second Sweep with
// nothing changed frees nothing.
func (p *Pool) Sweep() []Eviction {
	p.mu.Lock()
	now := p.now()
	var (
		evicted []Eviction
		conns   []transport.Connection
	)
	for i := range p.slots {
		s := &p.slots[i]
		if !s.Occupied {
			continue
		}

		var reason Reason
		switch {
		case s.Conn == nil || !s.Conn.IsConnected():
			reason = ReasonDisconnected
		case s.Timeout > 0 && now.Sub(s.LastActivity) > s.Timeout:
			reason = ReasonIdle
		default:
			continue
		}
		ev, conn := p.release(i, reason, now)
		evicted = append(evicted, ev)
		conns = append(conns, conn)
	}
	p.mu.Unlock()

	closeAll(conns)
	return evicted
}

// Release frees slot index for the given reason. Releasing a free slot is
// a no-op and reports false.
func (p *Pool) Release(index int, reason Reason) (Eviction, bool) {
	p.mu.Lock()
	if index < 0 || index >= len(p.slots) || !p.slots[index].Occupied {
		p.mu.Unlock()
		return Eviction{}, false
	}
	ev, conn := p.release(index, reason, p.now())
	p.mu.Unlock()

	closeAll([]transport.Connection{conn})
	return ev, true
}

// CloseAll frees every occupied slot
func (p *Pool) CloseAll(reason Reason) []Eviction {
	p.mu.Lock()
	now := p.now()
	var (
		evicted []Eviction
		conns   []transport.Connection
	)
	for i := range p.slots {
		if p.slots[i].Occupied {
			ev, conn := p.release(i, reason, now)
			evicted = append(evicted, ev)
			conns = append(conns, conn)
		}
	}
	p.mu.Unlock()

	closeAll(conns)
	return evicted
}

// Touch records activity on slot index
func (p *Pool) Touch(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= 0 && index < len(p.slots) && p.slots[index].Occupied {
		p.slots[index].LastActivity = p.now()
	}
}

// Prioritize moves index to the front of the service order. The order of
// the remaining slots is preserved.
func (p *Pool) Prioritize(index int) error {
	if index < 0 || index >= len(p.slots) {
		return tserror.Newf("slot index %d out of range", index).
			WithCode(tserror.CodeInvalidInput).
			WithOperation("slots.Prioritize").
			WithDetail("capacity", len(p.slots))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order := make([]int, 0, len(p.order))
	order = append(order, index)
	for _, i := range p.order {
		if i != index {
			order = append(order, i)
		}
	}
	p.order = order
	return nil
}

// ServiceOrder returns the slot indexes in the order they are serviced
func (p *Pool) ServiceOrder() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int, len(p.order))
	copy(out, p.order)
	return out
}

// Get returns a copy of slot index
func (p *Pool) Get(index int) (Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.slots) {
		return Slot{}, false
	}
	return p.slots[index], true
}

// Snapshot lists occupied slots by index
func (p *Pool) Snapshot() []SlotInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]SlotInfo, 0, len(p.slots))
	for i, s := range p.slots {
		if !s.Occupied {
			continue
		}
		info := SlotInfo{
			Index:        i,
			SessionID:    s.SessionID,
			ConnectedAt:  s.ConnectedAt,
			LastActivity: s.LastActivity,
			Timeout:      s.Timeout,
		}
		if s.Conn != nil {
			info.RemoteAddr = s.Conn.RemoteAddr()
		}
		infos = append(infos, info)
	}
	return infos
}

func (p *Pool) isFree(i int) bool {
	s := p.slots[i]
	return !s.Occupied || s.Conn == nil || !s.Conn.IsConnected()
}

// release clears slot i and hands back its connection; the caller closes
// it after dropping p.mu. Must be called with p.mu held.
func (p *Pool) release(i int, reason Reason, now time.Time) (Eviction, transport.Connection) {
	s := p.slots[i]
	ev := Eviction{
		Index:     i,
		SessionID: s.SessionID,
		Reason:    reason,
		Duration:  now.Sub(s.ConnectedAt),
	}
	if s.Conn != nil {
		ev.RemoteAddr = s.Conn.RemoteAddr()
	}
	p.slots[i] = Slot{}
	return ev, s.Conn
}

func closeAll(conns []transport.Connection) {
	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}
