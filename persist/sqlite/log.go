// Package sqlite persists document updates to a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"collabtext/crdt"
	"collabtext/persist"
)

var _ persist.Log = (*Log)(nil)

// Log appends updates to a `doc_updates` table.
type Log struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Log, error) {
	if path == "" {
		path = "collabtext.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps appends in order.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS doc_updates (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create doc_updates table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_doc_updates_doc ON doc_updates(doc_id, seq)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create doc_updates index: %w", err)
	}
	return &Log{db: db, path: path}, nil
}

func (l *Log) Append(ctx context.Context, docID string, u crdt.Update) error {
	raw, err := persist.Encode(u)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, `INSERT INTO doc_updates(doc_id, payload) VALUES(?, ?)`, docID, raw); err != nil {
		return fmt.Errorf("insert update: %w", err)
	}
	return nil
}

func (l *Log) Load(ctx context.Context, docID string) ([]crdt.Update, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT payload FROM doc_updates WHERE doc_id = ? ORDER BY seq`, docID)
	if err != nil {
		return nil, fmt.Errorf("select updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crdt.Update
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		u, err := persist.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Log) Path() string { return l.path }
