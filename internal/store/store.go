// Package store persists journeys, board cards, the timeline and progress in
// sqlite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("store: not found")

// Fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS journeys (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '{}',
		pending_validation TEXT NOT NULL DEFAULT '',
		checklist TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS plan_cards (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		plan_area TEXT NOT NULL,
		title TEXT NOT NULL,
		norm_title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		due_at TEXT,
		status TEXT NOT NULL DEFAULT 'todo',
		plan_hash TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		source TEXT NOT NULL,
		deprecated INTEGER NOT NULL DEFAULT 0,
		deprecated_version INTEGER NOT NULL DEFAULT 0,
		reminded_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plan_cards_lineage ON plan_cards (session_id, plan_type, plan_area);`,
	// Two concurrent first generations of one lineage cannot both insert a title.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_plan_cards_active_title
		ON plan_cards (session_id, plan_type, plan_area, norm_title) WHERE deprecated = 0;`,
	`CREATE TABLE IF NOT EXISTS timeline_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		journey_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_timeline_session ON timeline_events (session_id, id);`,
	`CREATE TABLE IF NOT EXISTS progress (
		session_id TEXT PRIMARY KEY,
		xp INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`,
}

// Store is the sqlite-backed record store.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{DB: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
