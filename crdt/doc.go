package crdt

import "fmt"

// Doc is one replica of a collaborative document: a text sequence plus named maps sharing
// a Lamport clock. A Doc is not safe for concurrent use; callers serialize access.
type Doc struct {
	peer      string
	clock     int
	text      *Sequence
	maps      map[string]*Map
	listeners []func(Update)
}

// NewDoc creates an empty replica identified by peer.
func NewDoc(peer string) *Doc {
	return &Doc{
		peer: peer,
		text: newSequence(),
		maps: make(map[string]*Map),
	}
}

// Peer returns the replica id.
func (d *Doc) Peer() string {
	return d.peer
}

// Map returns the named map, creating it on first use.
func (d *Doc) Map(name string) *Map {
	m, ok := d.maps[name]
	if !ok {
		m = newMap(name, d)
		d.maps[name] = m
	}
	return m
}

// Snapshot returns an immutable view of the current text.
func (d *Doc) Snapshot() *Snapshot {
	return d.text.snapshot()
}

// Text returns the current visible text.
func (d *Doc) Text() string {
	return d.text.snapshot().Text()
}

// Pending returns the number of remote ops waiting for a missing dependency.
func (d *Doc) Pending() int {
	return d.text.Pending()
}

// OnUpdate registers fn to receive every update this replica produces.
func (d *Doc) OnUpdate(fn func(Update)) {
	d.listeners = append(d.listeners, fn)
}

// Insert types text at pos and returns the resulting edit.
func (d *Doc) Insert(pos int, text string) ([]Step, error) {
	snap := d.text.snapshot()
	if pos < 0 || pos > snap.Len() {
		return nil, ErrInvalidPosition
	}
	if text == "" {
		return nil, nil
	}

	var origin *CharID
	if pos > 0 {
		id := snap.visible[pos-1]
		origin = &id
	}
	ops := make([]Op, 0, len(text))
	for _, r := range text {
		c := Char{ID: CharID{Clock: d.tick(), PeerID: d.peer}, Origin: origin, Value: string(r)}
		if _, err := d.text.integrate(c); err != nil {
			return nil, fmt.Errorf("integrate local insert: %w", err)
		}
		ops = append(ops, Op{Action: ActionInsert, Char: c})
		id := c.ID
		origin = &id
	}
	d.emit(Update{Peer: d.peer, Text: ops})
	return []Step{{Pos: pos, Inserted: len(ops)}}, nil
}

// Delete removes n characters starting at pos and returns the resulting edit.
func (d *Doc) Delete(pos, n int) ([]Step, error) {
	snap := d.text.snapshot()
	if pos < 0 || n < 0 || pos+n > snap.Len() {
		return nil, ErrInvalidPosition
	}
	if n == 0 {
		return nil, nil
	}

	ids := append([]CharID(nil), snap.visible[pos:pos+n]...)
	ops := make([]Op, 0, n)
	for _, id := range ids {
		if _, err := d.text.remove(id); err != nil {
			return nil, fmt.Errorf("remove local char: %w", err)
		}
		ops = append(ops, Op{Action: ActionDelete, Char: Char{ID: id}})
	}
	d.emit(Update{Peer: d.peer, Text: ops})
	return []Step{{Pos: pos, Deleted: n}}, nil
}

// Apply merges an update received from another replica and returns the visible text edits it
// caused. Updates produced by this replica are ignored. A malformed update is rejected before
// any of it is applied.
func (d *Doc) Apply(u Update) ([]Step, error) {
	if u.Peer == d.peer {
		return nil, nil
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("reject update from %s: %w", u.Peer, err)
	}
	for _, op := range u.Text {
		d.observe(op.Char.ID.Clock)
	}
	steps, err := d.text.applyRemote(u.Text)
	if err != nil {
		return steps, fmt.Errorf("apply text ops from %s: %w", u.Peer, err)
	}
	if u.Map != "" && len(u.Entries) > 0 {
		d.Map(u.Map).merge(u.Origin, u.Entries)
	}
	return steps, nil
}

// State returns updates that rebuild this replica's full state on an empty replica.
func (d *Doc) State() []Update {
	var out []Update
	ops := make([]Op, 0, len(d.text.items))
	var deletes []Op
	for _, it := range d.text.items {
		ops = append(ops, Op{Action: ActionInsert, Char: it.char})
		if it.deleted {
			deletes = append(deletes, Op{Action: ActionDelete, Char: Char{ID: it.char.ID}})
		}
	}
	if len(ops) > 0 {
		out = append(out, Update{Peer: d.peer, Text: append(ops, deletes...)})
	}
	for name, m := range d.maps {
		entries := make([]MapEntry, 0, len(m.entries))
		for _, e := range m.entries {
			entries = append(entries, e)
		}
		if len(entries) > 0 {
			out = append(out, Update{Peer: d.peer, Map: name, Entries: entries})
		}
	}
	return out
}

func (d *Doc) tick() int {
	d.clock++
	return d.clock
}

func (d *Doc) observe(clock int) {
	if clock > d.clock {
		d.clock = clock
	}
}

func (d *Doc) emit(u Update) {
	for _, fn := range d.listeners {
		fn(u)
	}
}
