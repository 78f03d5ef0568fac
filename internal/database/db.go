package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrDuplicateKey is returned when an insert hits the dedup_key uniqueness constraint
var ErrDuplicateKey = errors.New("duplicate visit key")

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	loc  *time.Location
}

// New creates a new database connection and initializes the schema.
// Stored dates are read back in the local timezone.
func New(dbPath string) (*DB, error) {
	return NewInLocation(dbPath, time.Local)
}

// NewInLocation is New with the timezone stored dates and times belong to
func NewInLocation(dbPath string, loc *time.Location) (*DB, error) {
	if loc == nil {
		loc = time.Local
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps runs serialized
	// and the pragmas below apply to every statement.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, loc: loc}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is usable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p); err != nil {
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS weekly_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		week_number INTEGER NOT NULL,
		year INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		entity_name TEXT NOT NULL,
		classification_code TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		duration_minutes REAL NOT NULL,
		entry_time TEXT NOT NULL DEFAULT '',
		exit_time TEXT NOT NULL DEFAULT '',
		dedup_key TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(dedup_key)
	);
	CREATE INDEX IF NOT EXISTS idx_weekly_usage_week ON weekly_usage(year, week_number);
	CREATE INDEX IF NOT EXISTS idx_weekly_usage_dates ON weekly_usage(start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_weekly_usage_entity ON weekly_usage(entity_name);
	CREATE INDEX IF NOT EXISTS idx_weekly_usage_code ON weekly_usage(classification_code);
	CREATE INDEX IF NOT EXISTS idx_weekly_usage_category ON weekly_usage(category);

	CREATE TABLE IF NOT EXISTS classifications (
		code TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		subcategory TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_classifications_category ON classifications(category);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// isUniqueViolation reports whether err comes from a UNIQUE constraint
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
