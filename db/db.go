// Package db provides database connection helpers, schema migration, and the
// comment-table column evolution used by the relational importer.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite driver registered as 'sqlite3'
)

// Open opens the relational store at path. The store is opened, used, and
// closed within the scope of a single run; callers own the Close.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty database path")
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	return sql.Open("sqlite3", dsn)
}

// Migrate applies idempotent schema changes for all required tables and
// indices, then runs the comment-table column evolution. Safe to run on every
// invocation.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS broadcasts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			broadcast_key TEXT UNIQUE,
			title TEXT,
			broadcaster TEXT,
			start_time TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			broadcast_id INTEGER NOT NULL REFERENCES broadcasts(id),
			author_id TEXT,
			author_name TEXT,
			text TEXT,
			sequence_no INTEGER,
			posted_at INTEGER
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_comments_natural_key ON comments(broadcast_id, sequence_no, author_id)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_posted_at ON comments(posted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_broadcasts_key ON broadcasts(broadcast_key)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlite migrate step %d failed: %w", i, err)
		}
	}
	return EnsureCommentColumns(ctx, db)
}

// optionalCommentColumns is the fixed list of columns added after the base
// schema shipped. Evolution only ever adds; it never drops or renames.
var optionalCommentColumns = []struct {
	name string
	ddl  string
}{
	{"elapsed_time", "elapsed_time TEXT DEFAULT ''"},
	{"is_tracked_author", "is_tracked_author INTEGER DEFAULT 0"},
	{"is_premium", "is_premium INTEGER DEFAULT 0"},
	{"is_anonymous", "is_anonymous INTEGER DEFAULT 0"},
	{"broadcast_title", "broadcast_title TEXT DEFAULT ''"},
	{"broadcast_start_time", "broadcast_start_time TEXT DEFAULT ''"},
	{"broadcast_key", "broadcast_key TEXT DEFAULT ''"},
}

// EnsureCommentColumns inspects the existing column set of the comments table
// and adds any optional column that is missing. Idempotent; running it twice
// in a row produces no error and no duplicate columns.
func EnsureCommentColumns(ctx context.Context, db *sql.DB) error {
	existing, err := tableColumns(ctx, db, "comments")
	if err != nil {
		return err
	}
	for _, col := range optionalCommentColumns {
		if existing[col.name] {
			continue
		}
		if _, err := db.ExecContext(ctx, `ALTER TABLE comments ADD COLUMN `+col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	// The natural-key index may predate the tracked index; both are cheap to
	// assert here.
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_comments_tracked ON comments(is_tracked_author, posted_at)`); err != nil {
		return fmt.Errorf("create tracked index: %w", err)
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
