package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	tool_name    TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	phase        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	detail_json  TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, created_at);
`

// SQLiteStore is the file-backed audit trail.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the audit database at path and applies the
// schema.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	// WAL allows concurrent reads but a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record inserts one event.
func (s *SQLiteStore) Record(ctx context.Context, ev Event) error {
	const q = `INSERT INTO events (id, session_id, kind, tool_name, tool_call_id, phase, status, detail_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		ev.ID,
		ev.SessionID,
		ev.Kind,
		ev.ToolName,
		ev.ToolCallID,
		ev.Phase,
		ev.Status,
		ev.DetailJSON,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListBySession returns all events for a session in creation order.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]Event, error) {
	const q = `SELECT id, session_id, kind, tool_name, tool_call_id, phase, status, detail_json, created_at
FROM events
WHERE session_id = ?
ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.ToolName,
			&ev.ToolCallID, &ev.Phase, &ev.Status, &ev.DetailJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NopStore discards every event. Used when auditing is disabled.
type NopStore struct{}

func (NopStore) Record(context.Context, Event) error { return nil }

func (NopStore) ListBySession(context.Context, string) ([]Event, error) { return nil, nil }

func (NopStore) Close() error { return nil }
