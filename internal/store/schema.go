// Package store provides the SQLite-backed inventory of roots, folders,
// script records, scan events, and the change log.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS folder_roots (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	path             TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	recursive        INTEGER NOT NULL DEFAULT 1,
	include_patterns TEXT NOT NULL DEFAULT '[]',
	exclude_patterns TEXT NOT NULL DEFAULT '[]',
	follow_symlinks  INTEGER NOT NULL DEFAULT 0,
	max_file_size    INTEGER NOT NULL DEFAULT 10485760,
	content_hash_cap INTEGER NOT NULL DEFAULT 0,
	watch_enabled    INTEGER NOT NULL DEFAULT 0,
	last_scan_at     DATETIME
);

CREATE TABLE IF NOT EXISTS folders (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	root_id   INTEGER NOT NULL REFERENCES folder_roots(id) ON DELETE CASCADE,
	rel_path  TEXT NOT NULL,
	parent_id INTEGER REFERENCES folders(id) ON DELETE CASCADE,
	note      TEXT NOT NULL DEFAULT '',
	UNIQUE(root_id, rel_path)
);

CREATE TABLE IF NOT EXISTS scripts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	root_id       INTEGER NOT NULL REFERENCES folder_roots(id) ON DELETE CASCADE,
	folder_id     INTEGER REFERENCES folders(id) ON DELETE SET NULL,
	rel_path      TEXT NOT NULL,
	name          TEXT NOT NULL,
	extension     TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	size          INTEGER NOT NULL DEFAULT 0,
	mtime         DATETIME,
	digest        TEXT NOT NULL DEFAULT '',
	line_count    INTEGER NOT NULL DEFAULT 0,
	missing       INTEGER NOT NULL DEFAULT 0,
	missing_scans INTEGER NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(root_id, rel_path)
);

CREATE INDEX IF NOT EXISTS idx_scripts_digest ON scripts(digest);
CREATE INDEX IF NOT EXISTS idx_scripts_root ON scripts(root_id);

CREATE TABLE IF NOT EXISTS scan_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	root_id       INTEGER NOT NULL REFERENCES folder_roots(id) ON DELETE CASCADE,
	full_scan     INTEGER NOT NULL DEFAULT 1,
	started_at    DATETIME NOT NULL,
	ended_at      DATETIME,
	status        TEXT NOT NULL,
	new_count     INTEGER NOT NULL DEFAULT 0,
	updated_count INTEGER NOT NULL DEFAULT 0,
	missing_count INTEGER NOT NULL DEFAULT 0,
	deleted_count INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scan_events_root ON scan_events(root_id);

CREATE TABLE IF NOT EXISTS change_log (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	root_id  INTEGER NOT NULL REFERENCES folder_roots(id) ON DELETE CASCADE,
	rel_path TEXT NOT NULL,
	at       DATETIME NOT NULL,
	kind     TEXT NOT NULL,
	old_fp   TEXT,
	new_fp   TEXT
);

CREATE INDEX IF NOT EXISTS idx_change_log_root ON change_log(root_id);
`

// DB wraps a sql.DB with inventory operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
