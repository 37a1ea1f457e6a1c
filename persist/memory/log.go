// Package memory provides an in-process update log, used by tests and single-run agents.
package memory

import (
	"context"
	"sync"

	"collabtext/crdt"
	"collabtext/persist"
)

var _ persist.Log = (*Log)(nil)

// Log keeps encoded updates per document in memory.
type Log struct {
	mu     sync.Mutex
	docs   map[string][][]byte
	closed bool
}

// New returns an empty log.
func New() *Log {
	return &Log{docs: make(map[string][][]byte)}
}

func (l *Log) Append(_ context.Context, docID string, u crdt.Update) error {
	raw, err := persist.Encode(u)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return persist.ErrClosed
	}
	l.docs[docID] = append(l.docs[docID], raw)
	return nil
}

func (l *Log) Load(_ context.Context, docID string) ([]crdt.Update, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, persist.ErrClosed
	}
	out := make([]crdt.Update, 0, len(l.docs[docID]))
	for _, raw := range l.docs[docID] {
		u, err := persist.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
