package audit

import (
	"context"
	"sync"
	"time"

	"github.com/msto63/telshell/internal/shell/server"
	"github.com/msto63/telshell/pkg/core/logging"
)

// RecorderConfig holds configuration for Recorder
type RecorderConfig struct {
	Server      string        // name stored with every event (e.g. "tcp", "websocket")
	BatchSize   int           // events per write (default: 50)
	FlushPeriod time.Duration // how often to flush (default: 2s)
	Logger      *logging.Logger
}

// Recorder buffers dispatcher events and writes them to a Store in
// batches. It implements server.Observer; its methods never block the poll
// loop on the database.
type Recorder struct {
	store       *Store
	server      string
	batchSize   int
	flushPeriod time.Duration
	logger      *logging.Logger

	buffer   []Event
	bufferMu sync.Mutex
	flushCh  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  int
}

var _ server.Observer = (*Recorder)(nil)

// NewRecorder starts a recorder writing to store
func NewRecorder(store *Store, cfg RecorderConfig) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushPeriod <= 0 {
		cfg.FlushPeriod = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("audit")
	}

	r := &Recorder{
		store:       store,
		server:      cfg.Server,
		batchSize:   cfg.BatchSize,
		flushPeriod: cfg.FlushPeriod,
		logger:      cfg.Logger,
		buffer:      make([]Event, 0, cfg.BatchSize),
		flushCh:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go r.flushWorker()
	return r
}

func (r *Recorder) SessionOpened(ev server.SessionEvent) {
	r.add(Event{
		Timestamp:  ev.Time,
		Kind:       KindSessionOpened,
		SessionID:  ev.SessionID,
		Slot:       ev.Slot,
		RemoteAddr: ev.RemoteAddr,
	})
}

func (r *Recorder) SessionClosed(ev server.SessionEvent) {
	r.add(Event{
		Timestamp:  ev.Time,
		Kind:       KindSessionClosed,
		SessionID:  ev.SessionID,
		Slot:       ev.Slot,
		RemoteAddr: ev.RemoteAddr,
		Reason:     ev.Reason,
		Duration:   ev.Duration,
	})
}

func (r *Recorder) CommandExecuted(ev server.CommandEvent) {
	r.add(Event{
		Timestamp:  ev.Time,
		Kind:       KindCommand,
		SessionID:  ev.SessionID,
		Slot:       ev.Slot,
		RemoteAddr: ev.RemoteAddr,
		Command:    ev.Command,
		Input:      ev.Input,
		Known:      ev.Known,
		Duration:   ev.Duration,
	})
}

func (r *Recorder) add(ev Event) {
	ev.Server = r.server

	r.bufferMu.Lock()
	select {
	case <-r.stopCh:
		r.dropped++
		r.bufferMu.Unlock()
		return
	default:
	}
	r.buffer = append(r.buffer, ev)
	shouldFlush := len(r.buffer) >= r.batchSize
	r.bufferMu.Unlock()

	if shouldFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush writes buffered events now
func (r *Recorder) Flush() {
	r.flush()
}

func (r *Recorder) flushWorker() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.flush()
			return
		case <-r.flushCh:
			r.flush()
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	events := make([]Event, len(r.buffer))
	copy(events, r.buffer)
	r.buffer = r.buffer[:0]
	r.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.store.Insert(ctx, events); err != nil {
		r.logger.Error("audit flush failed", "events", len(events), "error", err.Error())
	}
}

// Close flushes what is buffered and stops the worker. The store stays
// open.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() {
		r.bufferMu.Lock()
		close(r.stopCh)
		r.bufferMu.Unlock()
	})
	<-r.doneCh

	r.bufferMu.Lock()
	dropped := r.dropped
	r.bufferMu.Unlock()
	if dropped > 0 {
		r.logger.Warn("audit events dropped after close", "events", dropped)
	}
	return nil
}
