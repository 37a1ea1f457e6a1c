package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// MapEntry is one key's replicated state. Deletes are kept as tombstones so that a late,
// older write cannot resurrect the key.
type MapEntry struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
	Stamp   CharID          `json:"stamp"`
}

// Newer implements last-writer-wins: the higher clock wins and ties go to the higher peer id.
func Newer(a, b MapEntry) MapEntry {
	if b.Stamp.Less(a.Stamp) || a.Stamp == b.Stamp {
		return a
	}
	return b
}

// MapEvent describes one committed change to a map.
type MapEvent struct {
	Map    string
	Origin string   // transaction origin tag, as sent by the writer for remote merges
	Local  bool     // produced by this replica
	Keys   []string // sorted
}

type mapTxn struct {
	origin string
	depth  int
	writes map[string]MapEntry
	order  []string
}

// Map is a replicated last-writer-wins map from string keys to JSON values.
type Map struct {
	name      string
	doc       *Doc
	entries   map[string]MapEntry
	txn       *mapTxn
	observers []func(MapEvent)
}

func newMap(name string, doc *Doc) *Map {
	return &Map{name: name, doc: doc, entries: make(map[string]MapEntry)}
}

// Name returns the map's name within its document.
func (m *Map) Name() string {
	return m.name
}

// Get returns the value for key. Writes made earlier in the running transaction are visible.
func (m *Map) Get(key string) ([]byte, bool) {
	if m.txn != nil {
		if e, ok := m.txn.writes[key]; ok {
			if e.Deleted {
				return nil, false
			}
			return e.Value, true
		}
	}
	e, ok := m.entries[key]
	if !ok || e.Deleted {
		return nil, false
	}
	return e.Value, true
}

// Len returns the number of live keys, ignoring uncommitted writes.
func (m *Map) Len() int {
	n := 0
	for _, e := range m.entries {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// Range calls fn for every live committed key until fn returns false.
func (m *Map) Range(fn func(key string, value []byte) bool) {
	for k, e := range m.entries {
		if e.Deleted {
			continue
		}
		if !fn(k, e.Value) {
			return
		}
	}
}

// Set writes value under key. Outside a transaction the write commits immediately.
func (m *Map) Set(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	v := make(json.RawMessage, len(value))
	copy(v, value)
	return m.write(MapEntry{Key: key, Value: v})
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Map) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return m.write(MapEntry{Key: key, Deleted: true})
}

func (m *Map) write(e MapEntry) error {
	if m.txn != nil {
		m.txn.put(e)
		return nil
	}
	return m.Transact("", func() error {
		m.txn.put(e)
		return nil
	})
}

func (t *mapTxn) put(e MapEntry) {
	if _, ok := t.writes[e.Key]; !ok {
		t.order = append(t.order, e.Key)
	}
	t.writes[e.Key] = e
}

// Transact runs fn and commits every write it made as a single update tagged with origin.
// Nested calls join the outermost transaction. If fn fails, none of its writes are applied.
func (m *Map) Transact(origin string, fn func() error) error {
	if m.txn != nil {
		m.txn.depth++
		defer func() { m.txn.depth-- }()
		return fn()
	}

	m.txn = &mapTxn{origin: origin, depth: 1, writes: make(map[string]MapEntry)}
	err := fn()
	txn := m.txn
	m.txn = nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	if len(txn.order) == 0 {
		return nil
	}

	entries := make([]MapEntry, 0, len(txn.order))
	for _, k := range txn.order {
		e := txn.writes[k]
		e.Stamp = CharID{Clock: m.doc.tick(), PeerID: m.doc.peer}
		m.entries[k] = e
		entries = append(entries, e)
	}
	m.doc.emit(Update{Peer: m.doc.peer, Origin: origin, Map: m.name, Entries: entries})
	m.notify(MapEvent{Map: m.name, Origin: origin, Local: true, Keys: sortedKeys(txn.order)})
	return nil
}

// merge applies remote entries, keeping the newer write per key.
func (m *Map) merge(origin string, entries []MapEntry) {
	var changed []string
	for _, in := range entries {
		m.doc.observe(in.Stamp.Clock)
		cur, ok := m.entries[in.Key]
		if ok && Newer(cur, in).Stamp == cur.Stamp {
			continue
		}
		m.entries[in.Key] = in
		changed = append(changed, in.Key)
	}
	if len(changed) > 0 {
		m.notify(MapEvent{Map: m.name, Origin: origin, Keys: sortedKeys(changed)})
	}
}

// Observe registers fn for committed changes and returns a function that removes it.
func (m *Map) Observe(fn func(MapEvent)) func() {
	m.observers = append(m.observers, fn)
	idx := len(m.observers) - 1
	return func() {
		if idx < len(m.observers) {
			m.observers[idx] = nil
		}
	}
}

func (m *Map) notify(ev MapEvent) {
	for _, fn := range m.observers {
		if fn != nil {
			fn(ev)
		}
	}
}

func sortedKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}
