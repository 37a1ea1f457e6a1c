package annotation

import (
	"encoding/json"
	"errors"
	"fmt"

	"collabtext/crdt"
)

// ReplicatedMap is the replicated key/value mapping the store is kept in.
// *crdt.Map satisfies it.
type ReplicatedMap interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
	Range(fn func(key string, value []byte) bool)
	Len() int
	Transact(origin string, fn func() error) error
}

// Store is the create/read/update/delete surface over the replicated map. Writes return once
// the local replica has them; propagation to other replicas is the map's business.
type Store struct {
	m ReplicatedMap
}

// NewStore wraps m.
func NewStore(m ReplicatedMap) *Store {
	return &Store{m: m}
}

// Create stores a new annotation under id, replacing any record already there.
func (s *Store) Create(id string, start, end crdt.Anchor, data map[string]any) error {
	return s.put(id, Record{Start: start, End: end, Data: data})
}

// Read returns the record for id.
func (s *Store) Read(id string) (Record, error) {
	raw, ok := s.m.Get(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	return decodeRecord(raw)
}

// Update replaces the payload of id and leaves its anchors untouched.
func (s *Store) Update(id string, data map[string]any) error {
	rec, err := s.Read(id)
	if err != nil {
		return err
	}
	rec.Data = data
	return s.put(id, rec)
}

// UpdateAnchors moves id to a new anchor pair and leaves its payload untouched.
func (s *Store) UpdateAnchors(id string, start, end crdt.Anchor) error {
	rec, err := s.Read(id)
	if err != nil {
		return err
	}
	rec.Start, rec.End = start, end
	return s.put(id, rec)
}

// Delete removes id.
func (s *Store) Delete(id string) error {
	if _, ok := s.m.Get(id); !ok {
		return ErrNotFound
	}
	if err := s.m.Delete(id); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrStoreUnavailable, id, err)
	}
	return nil
}

// ForEach visits every record. Records that fail to decode are passed with a non-nil err.
// Visiting order is unspecified.
func (s *Store) ForEach(visit func(id string, rec Record, err error)) {
	s.m.Range(func(key string, value []byte) bool {
		rec, err := decodeRecord(value)
		visit(key, rec, err)
		return true
	})
}

// Len returns the number of stored annotations.
func (s *Store) Len() int {
	return s.m.Len()
}

// Transact runs fn as one replicated transaction tagged with origin.
func (s *Store) Transact(origin string, fn func() error) error {
	err := s.m.Transact(origin, fn)
	if err == nil || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (s *Store) put(id string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode annotation %s: %w", id, err)
	}
	if err := s.m.Set(id, raw); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrStoreUnavailable, id, err)
	}
	return nil
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return rec, nil
}
