// Package sqlite implements the durable stores on a single sqlite database:
// room records, the append-only state log, and uploaded file payloads.
package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL DEFAULT '',
	last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	users TEXT NOT NULL DEFAULT '{}',
	is_editable BOOLEAN NOT NULL DEFAULT TRUE,
	editor_mode TEXT NOT NULL DEFAULT 'plain',
	messages TEXT NOT NULL DEFAULT '[]',
	creator_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rooms_last_activity ON rooms(last_activity);

CREATE TABLE IF NOT EXISTS room_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL,
	state BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_room_updates_room_id ON room_updates(room_id);

CREATE TABLE IF NOT EXISTS room_files (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	name TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	uploaded_by TEXT NOT NULL DEFAULT '',
	uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	payload BLOB
);

CREATE INDEX IF NOT EXISTS idx_room_files_room_id ON room_files(room_id);
`

type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers off the writers' backs under concurrent flushes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("module", "adapters.sqlite").Str("path", path).Msg("database opened")
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
