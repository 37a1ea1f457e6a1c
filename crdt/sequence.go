package crdt

import (
	"errors"
	"strings"
)

type item struct {
	char    Char
	deleted bool
}

// Sequence is an RGA list of characters. Deleted characters stay in place as tombstones so
// that anchors referring to them keep a structural slot.
type Sequence struct {
	items   []*item
	known   map[CharID]*item
	pending []Op
	version uint64
	snap    *Snapshot
}

func newSequence() *Sequence {
	return &Sequence{known: make(map[CharID]*item)}
}

// position returns the slice index of id, or -1.
func (s *Sequence) position(id CharID) int {
	if _, ok := s.known[id]; !ok {
		return -1
	}
	for i, it := range s.items {
		if it.char.ID == id {
			return i
		}
	}
	return -1
}

// visibleBefore counts live characters before slice index i.
func (s *Sequence) visibleBefore(i int) int {
	n := 0
	for _, it := range s.items[:i] {
		if !it.deleted {
			n++
		}
	}
	return n
}

// integrate places c after its origin, skipping concurrent inserts with a larger id so that
// every replica converges on the same order. It returns the visible offset of c, or -1 when
// c was already present.
func (s *Sequence) integrate(c Char) (int, error) {
	if _, ok := s.known[c.ID]; ok {
		return -1, nil
	}
	i := 0
	if c.Origin != nil {
		p := s.position(*c.Origin)
		if p < 0 {
			return 0, ErrUnknownItem
		}
		i = p + 1
	}
	for i < len(s.items) && c.ID.Less(s.items[i].char.ID) {
		i++
	}

	it := &item{char: c}
	s.items = append(s.items, nil)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = it
	s.known[c.ID] = it
	s.touch()
	return s.visibleBefore(i), nil
}

// remove tombstones id. It returns the visible offset the character occupied, or -1 when it
// was already deleted.
func (s *Sequence) remove(id CharID) (int, error) {
	it, ok := s.known[id]
	if !ok {
		return 0, ErrUnknownItem
	}
	if it.deleted {
		return -1, nil
	}
	pos := s.visibleBefore(s.position(id))
	it.deleted = true
	s.touch()
	return pos, nil
}

// apply integrates one op and reports the visible edit it caused, if any.
func (s *Sequence) apply(op Op) (Step, bool, error) {
	switch op.Action {
	case ActionInsert:
		pos, err := s.integrate(op.Char)
		if err != nil || pos < 0 {
			return Step{}, false, err
		}
		return Step{Pos: pos, Inserted: 1}, true, nil
	case ActionDelete:
		pos, err := s.remove(op.Char.ID)
		if err != nil || pos < 0 {
			return Step{}, false, err
		}
		return Step{Pos: pos, Deleted: 1}, true, nil
	default:
		return Step{}, false, ErrUnknownAction
	}
}

// applyRemote applies ops in order, parking those whose dependencies are missing and retrying
// parked ops whenever something new integrates.
func (s *Sequence) applyRemote(ops []Op) ([]Step, error) {
	var steps []Step
	queue := append(s.pending, ops...)
	s.pending = nil
	for {
		progressed := false
		var parked []Op
		for _, op := range queue {
			step, changed, err := s.apply(op)
			switch {
			case errors.Is(err, ErrUnknownItem):
				parked = append(parked, op)
				continue
			case err != nil:
				s.pending = append(s.pending, parked...)
				return steps, err
			}
			progressed = true
			if changed {
				steps = append(steps, step)
			}
		}
		queue = parked
		if !progressed || len(queue) == 0 {
			break
		}
	}
	s.pending = append(s.pending, queue...)
	return steps, nil
}

func (s *Sequence) touch() {
	s.version++
	s.snap = nil
}

// Pending returns the number of parked ops.
func (s *Sequence) Pending() int {
	return len(s.pending)
}

// snapshot returns the immutable view for the current version, building it at most once.
func (s *Sequence) snapshot() *Snapshot {
	if s.snap != nil {
		return s.snap
	}
	snap := &Snapshot{
		version: s.version,
		slots:   make(map[CharID]int, len(s.items)),
	}
	var b strings.Builder
	for _, it := range s.items {
		snap.slots[it.char.ID] = len(snap.visible)
		if !it.deleted {
			snap.visible = append(snap.visible, it.char.ID)
			b.WriteString(it.char.Value)
		}
	}
	snap.text = b.String()
	s.snap = snap
	return snap
}
