package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned by InsertEvent when the event is already stored.
	ErrDuplicate = errors.New("storage: duplicate event")
	// ErrInvalidEvent is returned for events whose end is not after their start.
	ErrInvalidEvent = errors.New("storage: event ends before it starts")
)

type Storage struct {
	db  *sql.DB
	loc *time.Location
}

// New opens (creating if needed) the booking database at dbPath, applies the
// schema and seeds the reserved rows. Timestamps read back are converted to
// loc; nil means UTC.
func New(dbPath string, loc *time.Location) (*Storage, error) {
	if loc == nil {
		loc = time.UTC
	}

	memory := dbPath == ":memory:"
	if !memory {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db, loc: loc}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Location returns the timezone timestamps are returned in.
func (s *Storage) Location() *time.Location {
	return s.loc
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS divisions (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			division_id INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (division_id) REFERENCES divisions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE,
			group_id INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (group_id) REFERENCES groups(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_name ON users(name)`,
		`CREATE TABLE IF NOT EXISTS instruments (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			path TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS booking_types (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			guid TEXT UNIQUE,
			user_id INTEGER NOT NULL,
			instrument_id INTEGER NOT NULL,
			booking_type_id INTEGER NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			hours REAL NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (end_time > start_time),
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (instrument_id) REFERENCES instruments(id),
			FOREIGN KEY (booking_type_id) REFERENCES booking_types(id)
		)`,
		// Events without a calendar UID are deduplicated on instrument and start.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_instrument_start
			ON events(instrument_id, start_time) WHERE guid IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id)`,
		// Reserved rows
		`INSERT OR IGNORE INTO divisions (id, name) VALUES (1, 'Unknown')`,
		`INSERT OR IGNORE INTO groups (id, name, division_id) VALUES (1, 'Unknown', 1)`,
		`INSERT OR IGNORE INTO users (id, name, email, group_id) VALUES (1, 'Unknown', NULL, 1)`,
		`INSERT OR IGNORE INTO instruments (id, name) VALUES (1, 'Unknown')`,
		`INSERT OR IGNORE INTO booking_types (id, name) VALUES (1, 'standard')`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Session runs fn inside a single transaction. The transaction is committed
// when fn returns nil and rolled back when it returns an error or panics.
func (s *Storage) Session(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	committed = true
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
