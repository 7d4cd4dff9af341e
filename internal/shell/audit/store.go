// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     audit
// Description: SQLite audit trail of shell sessions and commands
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

// Package audit persists session lifecycle and command events of a shell
// server to SQLite. Store is the persistence layer; Recorder plugs into the
// dispatcher as an observer and writes events in batches off the poll loop.
package audit

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	tserror "github.com/msto63/telshell/pkg/core/error"
)

// Kind classifies an audit event
type Kind string

const (
	KindSessionOpened Kind = "session_opened"
	KindSessionClosed Kind = "session_closed"
	KindCommand       Kind = "command"
)

// Event is one row of the audit trail
type Event struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Server     string        `json:"server"`
	Kind       Kind          `json:"kind"`
	SessionID  string        `json:"session_id"`
	Slot       int           `json:"slot"`
	RemoteAddr string        `json:"remote_addr"`
	Command    string        `json:"command,omitempty"`
	Input      string        `json:"input,omitempty"`
	Known      bool          `json:"known"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Filter selects events for Query
type Filter struct {
	Kind      Kind
	SessionID string
	Server    string
	Since     time.Time
	Limit     int
}

// Stats summarizes the stored events
type Stats struct {
	Events          int64     `json:"events"`
	Sessions        int64     `json:"sessions"`
	Commands        int64     `json:"commands"`
	UnknownCommands int64     `json:"unknown_commands"`
	Oldest          time.Time `json:"oldest"`
	Newest          time.Time `json:"newest"`
}

// Config holds the store configuration
type Config struct {
	Path string
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{Path: "./data/audit.db"}
}

// Store is the SQLite audit store
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates the database file and schema if needed
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, dbError(err, "audit.Open", "failed to create directory")
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, dbError(err, "audit.Open", "failed to open database")
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, dbError(err, "audit.Open", "failed to initialize schema")
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		server TEXT NOT NULL,
		kind TEXT NOT NULL,
		session_id TEXT NOT NULL,
		slot INTEGER NOT NULL,
		remote_addr TEXT NOT NULL,
		command TEXT,
		input TEXT,
		known INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		duration_us INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Insert stores events in one transaction and returns how many were written
func (s *Store) Insert(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbError(err, "audit.Insert", "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, timestamp, server, kind, session_id, slot, remote_addr,
			command, input, known, reason, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, dbError(err, "audit.Insert", "failed to prepare statement")
	}
	defer stmt.Close()

	written := 0
	for i := range events {
		ev := &events[i]
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}

		_, err := stmt.ExecContext(ctx, ev.ID, ev.Timestamp.UTC(), ev.Server, string(ev.Kind),
			ev.SessionID, ev.Slot, ev.RemoteAddr, ev.Command, ev.Input, ev.Known,
			ev.Reason, ev.Duration.Microseconds())
		if err != nil {
			return 0, dbError(err, "audit.Insert", "failed to insert event")
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, dbError(err, "audit.Insert", "failed to commit transaction")
	}
	return written, nil
}

// Query returns events matching filter, newest first
func (s *Store) Query(ctx context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, server, kind, session_id, slot, remote_addr,
		command, input, known, reason, duration_us FROM events WHERE 1=1`
	var args []interface{}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Server != "" {
		query += " AND server = ?"
		args = append(args, filter.Server)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "audit.Query", "failed to query events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind string
		var command, input, reason sql.NullString
		var durationUS int64

		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Server, &kind, &ev.SessionID, &ev.Slot,
			&ev.RemoteAddr, &command, &input, &ev.Known, &reason, &durationUS); err != nil {
			return nil, dbError(err, "audit.Query", "failed to scan event")
		}
		ev.Kind = Kind(kind)
		ev.Command = command.String
		ev.Input = input.String
		ev.Reason = reason.String
		ev.Duration = time.Duration(durationUS) * time.Microsecond
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "audit.Query", "failed to read events")
	}
	return events, nil
}

// Recent returns the newest limit events
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.Query(ctx, Filter{Limit: limit})
}

// Stats summarizes the audit trail
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(DISTINCT session_id),
			COALESCE(SUM(CASE WHEN kind = 'command' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'command' AND known = 0 THEN 1 ELSE 0 END), 0),
			MIN(timestamp), MAX(timestamp)
		FROM events
	`).Scan(&st.Events, &st.Sessions, &st.Commands, &st.UnknownCommands, &oldest, &newest)
	if err != nil {
		return Stats{}, dbError(err, "audit.Stats", "failed to read stats")
	}
	st.Oldest = parseTime(oldest)
	st.Newest = parseTime(newest)
	return st, nil
}

// Prune deletes events older than olderThan and returns the number removed
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, dbError(err, "audit.Prune", "failed to prune events")
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// aggregate timestamps come back as text from the driver
func parseTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t
		}
	}
	return time.Time{}
}

func dbError(err error, op, msg string) error {
	return tserror.Wrap(err, msg).
		WithCode(tserror.CodeDatabaseError).
		WithOperation(op)
}
