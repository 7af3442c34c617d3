package store

import (
	"database/sql"
	"time"

	"github.com/rescuegrid/rescuegrid/core/model"
	_ "modernc.org/sqlite"
)

// EventArchiver persists audit events beyond process lifetime.
type EventArchiver interface {
	Archive(ev model.Event) error
	Close() error
}

// SQLiteArchive stores the audit trail in a SQLite database. It subscribes
// to the event bus in the application wiring; the dispatch path never blocks
// on it.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens or creates the database and ensures schema.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS audit_events (
        id TEXT PRIMARY KEY,
        kind TEXT NOT NULL,
        request_id TEXT NOT NULL,
        ambulance_id TEXT,
        detail TEXT,
        ts INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS audit_events_request ON audit_events(request_id, ts);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteArchive{db: db}, nil
}

// Archive inserts the event. Re-archiving the same event id is a no-op, so
// replays after a crash are safe.
func (s *SQLiteArchive) Archive(ev model.Event) error {
	_, err := s.db.Exec(`INSERT INTO audit_events (id, kind, request_id, ambulance_id, detail, ts)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO NOTHING`,
		ev.ID, string(ev.Kind), ev.RequestID, ev.AmbulanceID, ev.Detail, ev.Timestamp.UnixNano())
	return err
}

// History returns the archived events for a request in commit order.
func (s *SQLiteArchive) History(requestID string) ([]model.Event, error) {
	rows, err := s.db.Query(`SELECT id, kind, request_id, ambulance_id, detail, ts
        FROM audit_events WHERE request_id = ? ORDER BY ts`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Event
	for rows.Next() {
		var ev model.Event
		var kind string
		var ts int64
		if err := rows.Scan(&ev.ID, &kind, &ev.RequestID, &ev.AmbulanceID, &ev.Detail, &ts); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		ev.Timestamp = time.Unix(0, ts).UTC()
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteArchive) Close() error { return s.db.Close() }
