// Package bolt persists document updates in an embedded bbolt file, one bucket per document.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"collabtext/crdt"
	"collabtext/persist"
)

var _ persist.Log = (*Log)(nil)

var rootBucket = []byte("docs")

// Log stores updates keyed by a big-endian sequence so cursor order is append order.
type Log struct {
	db *bolt.DB
}

// Open opens or creates the bbolt file at path.
func Open(path string) (*Log, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create root bucket: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Append(ctx context.Context, docID string, u crdt.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := persist.Encode(u)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(docID))
		if err != nil {
			return fmt.Errorf("doc bucket %s: %w", docID, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, raw)
	})
}

func (l *Log) Load(ctx context.Context, docID string) ([]crdt.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []crdt.Update
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket([]byte(docID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			u, err := persist.Decode(v)
			if err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	return out, err
}

// Documents lists the ids of every document with stored updates.
func (l *Log) Documents() ([]string, error) {
	var ids []string
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

func (l *Log) Close() error {
	return l.db.Close()
}
