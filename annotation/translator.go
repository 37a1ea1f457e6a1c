package annotation

import (
	"fmt"

	"collabtext/crdt"
)

// ToAnchor converts an absolute offset in snap into an anchor that survives later edits.
func ToAnchor(snap Snapshot, offset int) (crdt.Anchor, error) {
	a, err := snap.AnchorAt(offset)
	if err != nil {
		return crdt.Anchor{}, fmt.Errorf("anchor at %d: %w", offset, err)
	}
	return a, nil
}

// ToAbsolute converts an anchor back to an absolute offset in snap.
func ToAbsolute(snap Snapshot, a crdt.Anchor) (int, error) {
	pos, ok := snap.Resolve(a)
	if !ok {
		return 0, ErrUnresolvedAnchor
	}
	return pos, nil
}

// anchorRange converts [from, to) into an anchor pair.
func anchorRange(snap Snapshot, from, to int) (crdt.Anchor, crdt.Anchor, error) {
	start, err := ToAnchor(snap, from)
	if err != nil {
		return crdt.Anchor{}, crdt.Anchor{}, err
	}
	end, err := ToAnchor(snap, to)
	if err != nil {
		return crdt.Anchor{}, crdt.Anchor{}, err
	}
	return start, end, nil
}

// MapPosition carries pos through steps. assoc picks the side a position sticks to when an
// insertion lands exactly on it: assoc < 0 stays before the inserted text, assoc > 0 moves
// after it. Positions inside a deleted range collapse onto the range start.
func MapPosition(steps []crdt.Step, pos int, assoc int) int {
	for _, st := range steps {
		start, end := st.Pos, st.Pos+st.Deleted
		switch {
		case pos < start:
		case pos > end:
			pos += st.Inserted - st.Deleted
		default:
			side := assoc
			if st.Deleted > 0 {
				switch pos {
				case start:
					side = -1
				case end:
					side = 1
				}
			}
			if side < 0 {
				pos = start
			} else {
				pos = start + st.Inserted
			}
		}
	}
	return pos
}
