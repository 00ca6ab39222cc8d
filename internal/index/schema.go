// Package index owns the indexer's private SQLite connection: it reads items
// that need indexing and writes the search_index table.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	lid          INTEGER PRIMARY KEY,
	guid         TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	index_needed INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS resources (
	lid          INTEGER PRIMARY KEY,
	guid         TEXT NOT NULL UNIQUE,
	note_guid    TEXT NOT NULL DEFAULT '',
	mime         TEXT NOT NULL DEFAULT '',
	file_name    TEXT NOT NULL DEFAULT '',
	recognition  BLOB,
	index_needed INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS search_index (
	lid     INTEGER NOT NULL,
	weight  INTEGER NOT NULL CHECK (weight BETWEEN 0 AND 100),
	source  TEXT NOT NULL CHECK (source IN ('text', 'recognition')),
	content TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_notes_index_needed ON notes(index_needed);
CREATE INDEX IF NOT EXISTS idx_resources_index_needed ON resources(index_needed);
CREATE INDEX IF NOT EXISTS idx_resources_note_guid ON resources(note_guid);
CREATE INDEX IF NOT EXISTS idx_search_index_lid_source ON search_index(lid, source);
`

// DefaultCommitEvery is the number of records written between commits during a flush.
const DefaultCommitEvery = 200

// DB wraps the indexer's dedicated sql.DB.
type DB struct {
	conn        *sql.DB
	logger      *slog.Logger
	commitEvery int
}

// Option configures a DB.
type Option func(*DB)

// WithCommitEvery sets the flush commit boundary. Non-positive values are ignored.
func WithCommitEvery(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.commitEvery = n
		}
	}
}

// Open opens (or creates) the SQLite database and applies the schema.
// The pool is capped at one connection so the indexer never contends with itself.
func Open(dsn string, logger *slog.Logger, opts ...Option) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}

	db := &DB{conn: conn, logger: logger, commitEvery: DefaultCommitEvery}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
