package persistence

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/arbor/pkg/api"
)

// SQLiteEventStore stores run events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			action_id INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id, id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	ev = stamp(ev)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, at, type, action_id, kind, description, duration, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID,
		ev.At.UnixNano(),
		string(ev.Type),
		int64(ev.ActionID),
		ev.Kind,
		ev.Description,
		int64(ev.Duration),
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, at, type, action_id, kind, description, duration, detail
		FROM run_events
		WHERE run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var (
			id       string
			atN      int64
			typ      string
			actionID int64
			kind     string
			desc     string
			dur      int64
			detail   string
		)
		if err := rows.Scan(&id, &atN, &typ, &actionID, &kind, &desc, &dur, &detail); err != nil {
			return nil, err
		}
		out = append(out, api.Event{
			RunID:       id,
			At:          time.Unix(0, atN),
			Type:        api.EventType(typ),
			ActionID:    uint64(actionID),
			Kind:        kind,
			Description: desc,
			Duration:    time.Duration(dur),
			Detail:      detail,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteEventStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM run_events
		GROUP BY run_id
		ORDER BY MIN(id) ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
