// Package persist stores the updates a document has received so a replica can be rebuilt
// after a restart. Only replicated state is stored; overlays are always rederived.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"collabtext/crdt"
)

// ErrClosed indicates use of a log after Close.
var ErrClosed = errors.New("update log closed")

// Log is an append-only, per-document update log.
type Log interface {
	// Append records u after every update previously appended for docID.
	Append(ctx context.Context, docID string, u crdt.Update) error

	// Load returns every update recorded for docID in append order.
	// An unknown document has an empty log.
	Load(ctx context.Context, docID string) ([]crdt.Update, error)

	Close() error
}

// Merger applies a replayed update. *session.Session satisfies it.
type Merger interface {
	Merge(u crdt.Update) error
}

// Replay feeds the stored updates for docID into m and returns how many were applied.
func Replay(ctx context.Context, log Log, docID string, m Merger) (int, error) {
	updates, err := log.Load(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", docID, err)
	}
	for i, u := range updates {
		if err := m.Merge(u); err != nil {
			return i, fmt.Errorf("replay %s update %d: %w", docID, i, err)
		}
	}
	return len(updates), nil
}

// Encode serializes an update for storage.
func Encode(u crdt.Update) ([]byte, error) {
	return json.Marshal(u)
}

// Decode parses a stored update.
func Decode(raw []byte) (crdt.Update, error) {
	var u crdt.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return crdt.Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}
