// Package ledger records every proposed command set, its resolution and every
// goal change in a local sqlite database.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"antshell/internal/logging"
)

// Kind of a ledger event.
type Kind string

const (
	Proposed     Kind = "proposed"
	Executed     Kind = "executed"
	Rejected     Kind = "rejected"
	Abandoned    Kind = "abandoned"
	GoalSet      Kind = "goal"
	GoalComplete Kind = "goal_complete"
)

// Event is one ledger row.
type Event struct {
	ID        int64
	Timestamp time.Time
	Session   string
	Kind      Kind
	SetID     string
	Commands  []string
	Reason    string
	Goal      string
}

// Store is the sqlite-backed ledger.
type Store struct {
	db   *sql.DB
	path string
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("ledger path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare ledger dir: %w", err)
	}
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		logging.ErrorLog("ledger: %s is empty, recreating", path)
		os.Remove(path)
		os.Remove(path + "-wal")
		os.Remove(path + "-shm")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TIMESTAMP NOT NULL,
	session TEXT NOT NULL,
	kind TEXT NOT NULL,
	set_id TEXT NOT NULL DEFAULT '',
	commands TEXT NOT NULL DEFAULT '[]',
	reason TEXT NOT NULL DEFAULT '',
	goal TEXT NOT NULL DEFAULT ''
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	if _, err := db.ExecContext(context.Background(),
		`CREATE INDEX IF NOT EXISTS events_session ON events(session, id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger index: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Record appends ev. A zero Timestamp is set to now.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	commands := ev.Commands
	if commands == nil {
		commands = []string{}
	}
	encoded, err := json.Marshal(commands)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO events (ts, session, kind, set_id, commands, reason, goal)
VALUES(?,?,?,?,?,?,?)`, ev.Timestamp.UTC(), ev.Session, string(ev.Kind), ev.SetID, string(encoded), ev.Reason, ev.Goal)
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return nil
}

// Recent returns up to limit events, newest last. An empty session returns
// events of every session.
func (s *Store) Recent(ctx context.Context, session string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, ts, session, kind, set_id, commands, reason, goal FROM events`
	args := []any{}
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev       Event
			kind     string
			commands string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Session, &kind, &ev.SetID, &commands, &ev.Reason, &ev.Goal); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(commands), &ev.Commands); err != nil {
			return nil, fmt.Errorf("decode commands of event %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
