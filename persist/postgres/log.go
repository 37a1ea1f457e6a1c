// Package postgres persists document updates to PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/crdt"
	"collabtext/persist"
)

var _ persist.Log = (*Log)(nil)

const schema = `CREATE TABLE IF NOT EXISTS doc_updates (
	seq BIGSERIAL PRIMARY KEY,
	doc_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_doc_updates_doc ON doc_updates(doc_id, seq);`

// Log appends updates to the doc_updates table.
type Log struct {
	pool *pgxpool.Pool
}

// Open connects to url and ensures the schema exists.
func Open(ctx context.Context, url string) (*Log, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Log{pool: pool}, nil
}

func (l *Log) Append(ctx context.Context, docID string, u crdt.Update) error {
	raw, err := persist.Encode(u)
	if err != nil {
		return err
	}
	if _, err := l.pool.Exec(ctx, `INSERT INTO doc_updates (doc_id, payload) VALUES ($1, $2)`, docID, raw); err != nil {
		return fmt.Errorf("failed to save update to db: %w", err)
	}
	return nil
}

func (l *Log) Load(ctx context.Context, docID string) ([]crdt.Update, error) {
	rows, err := l.pool.Query(ctx, `SELECT payload FROM doc_updates WHERE doc_id = $1 ORDER BY seq`, docID)
	if err != nil {
		return nil, fmt.Errorf("select updates: %w", err)
	}
	defer rows.Close()

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

// Reset removes every stored update for docID.
func (l *Log) Reset(ctx context.Context, docID string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM doc_updates WHERE doc_id = $1`, docID)
	return err
}

func (l *Log) Close() error {
	l.pool.Close()
	return nil
}
