// Package journal persists worker sessions and the commands workers ran.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/conduit/internal/bridge"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session is one row of the sessions table.
type Session struct {
	ID         string     `json:"id"`
	Executable string     `json:"executable"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Messages   int64      `json:"messages"`
	Dropped    int64      `json:"dropped"`
	Reason     string     `json:"reason,omitempty"`
}

// Command is one row of the commands table.
type Command struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Command    string    `json:"command"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store is the SQLite-backed journal.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ bridge.Journal = (*Store)(nil)

// NewStore wraps a database opened with storage.OpenSQLite.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SessionStarted inserts the session row.
func (s *Store) SessionStarted(ctx context.Context, rec bridge.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, executable, started_at) VALUES(?, ?, ?)
ON CONFLICT(id) DO UPDATE SET executable = excluded.executable, started_at = excluded.started_at;`,
		rec.ID, rec.Executable, formatTime(rec.StartedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionStopped closes the session row, creating it if the start was never
// recorded.
func (s *Store) SessionStopped(ctx context.Context, rec bridge.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, executable, started_at, stopped_at, messages, dropped, reason) VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  stopped_at = excluded.stopped_at,
  messages   = excluded.messages,
  dropped    = excluded.dropped,
  reason     = excluded.reason;`,
		rec.ID, rec.Executable, formatTime(rec.StartedAt), formatTime(rec.StoppedAt),
		rec.Messages, rec.Dropped, rec.Reason)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// LogCommand appends a command a worker asked the host to run.
func (s *Store) LogCommand(ctx context.Context, sessionID, command string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO commands(session_id, command, received_at) VALUES(?, ?, ?);",
		nullable(sessionID), command, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("log command: %w", err)
	}
	return nil
}

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("session not found")

// ErrAmbiguous is returned when an id prefix matches more than one session.
var ErrAmbiguous = errors.New("session id prefix is ambiguous")

const sessionColumns = "id, executable, started_at, stopped_at, messages, dropped, reason"

// Recent returns the newest sessions first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY started_at DESC LIMIT ?;", limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return scanSessions(rows)
}

// Session finds one session by id or unique id prefix.
func (s *Store) Session(ctx context.Context, idPrefix string) (Session, error) {
	if idPrefix == "" {
		return Session{}, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE substr(id, 1, ?) = ? ORDER BY started_at DESC LIMIT 2;",
		len(idPrefix), idPrefix)
	if err != nil {
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	found, err := scanSessions(rows)
	if err != nil {
		return Session{}, err
	}
	switch len(found) {
	case 0:
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, idPrefix)
	case 1:
		return found[0], nil
	default:
		return Session{}, fmt.Errorf("%w: %s", ErrAmbiguous, idPrefix)
	}
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess      Session
			startedAt string
			stoppedAt sql.NullString
			reason    sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.Executable, &startedAt, &stoppedAt, &sess.Messages, &sess.Dropped, &reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var err error
		if sess.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for session %s: %w", sess.ID, err)
		}
		if stoppedAt.Valid {
			t, err := time.Parse(timeLayout, stoppedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse stopped_at for session %s: %w", sess.ID, err)
			}
			sess.StoppedAt = &t
		}
		sess.Reason = reason.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RecentCommands returns the newest logged commands first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, command, received_at
FROM commands ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	return scanCommands(rows)
}

// SessionCommands returns the commands a session ran, oldest first.
func (s *Store) SessionCommands(ctx context.Context, sessionID string) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, command, received_at
FROM commands WHERE session_id = ? ORDER BY id ASC;`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session commands: %w", err)
	}
	return scanCommands(rows)
}

func scanCommands(rows *sql.Rows) ([]Command, error) {
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var (
			cmd        Command
			sessionID  sql.NullString
			receivedAt string
		)
		if err := rows.Scan(&cmd.ID, &sessionID, &cmd.Command, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		var err error
		if cmd.ReceivedAt, err = time.Parse(timeLayout, receivedAt); err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		cmd.SessionID = sessionID.String
		out = append(out, cmd)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
