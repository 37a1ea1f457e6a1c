package crdt

// Anchor is a position that survives edits elsewhere in the document. ID names the character
// at the anchored offset; a nil ID anchors to the end of the document.
type Anchor struct {
	ID *CharID `json:"id,omitempty"`
}

// IsEnd reports whether the anchor refers to the end of the document.
func (a Anchor) IsEnd() bool {
	return a.ID == nil
}

// Snapshot is an immutable view of the text at one version. Resolving an anchor against it
// is a single map lookup.
type Snapshot struct {
	version uint64
	text    string
	visible []CharID
	slots   map[CharID]int // every known id, tombstones included -> live characters before it
}

// Version identifies the document state the snapshot was taken from.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of visible characters.
func (s *Snapshot) Len() int {
	return len(s.visible)
}

// Text returns the visible text.
func (s *Snapshot) Text() string {
	return s.text
}

// AnchorAt returns the anchor for an absolute offset in [0, Len()].
func (s *Snapshot) AnchorAt(offset int) (Anchor, error) {
	if offset < 0 || offset > len(s.visible) {
		return Anchor{}, ErrInvalidPosition
	}
	if offset == len(s.visible) {
		return Anchor{}, nil
	}
	id := s.visible[offset]
	return Anchor{ID: &id}, nil
}

// Resolve maps an anchor back to an absolute offset. Anchors on deleted characters resolve to
// the slot the character used to occupy; anchors on characters this snapshot has never seen
// do not resolve.
func (s *Snapshot) Resolve(a Anchor) (int, bool) {
	if a.ID == nil {
		return len(s.visible), true
	}
	pos, ok := s.slots[*a.ID]
	return pos, ok
}
