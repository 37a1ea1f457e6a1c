// Package annotation anchors annotations (comments, highlights, markers) to text that is
// edited concurrently through a replicated document.
//
// Annotations live in a replicated map as pairs of CRDT anchors plus an opaque payload. The
// Engine derives an overlay of absolute spans from that map and keeps it in step with the
// document: remote changes rebuild the overlay from the map, local edits remap the overlay
// and write the corrected anchors back in one batched transaction.
package annotation

import "collabtext/crdt"

// Snapshot is the read side of a document version that anchors resolve against.
// *crdt.Snapshot satisfies it.
type Snapshot interface {
	Len() int
	AnchorAt(offset int) (crdt.Anchor, error)
	Resolve(a crdt.Anchor) (int, bool)
}

// Record is what the store holds for one annotation.
type Record struct {
	Start crdt.Anchor    `json:"from"`
	End   crdt.Anchor    `json:"to"`
	Data  map[string]any `json:"data,omitempty"`
}

// Span is one resolved annotation ready for rendering. From and To are absolute offsets
// of the half-open range [From, To).
type Span struct {
	ID    string            `json:"id"`
	From  int               `json:"from"`
	To    int               `json:"to"`
	Data  map[string]any    `json:"data,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Origin says whether a change was made by this replica or merged in from another.
type Origin int

const (
	Local Origin = iota
	Remote
)

func (o Origin) String() string {
	if o == Remote {
		return "remote"
	}
	return "local"
}

// ActionType names a direct API mutation.
type ActionType string

const (
	ActionAdd          ActionType = "add"
	ActionUpdate       ActionType = "update"
	ActionDelete       ActionType = "delete"
	ActionForceRebuild ActionType = "forceRebuild"
)

// Action is a direct mutation of the annotation set that bypasses the document delta.
type Action struct {
	Type ActionType
	ID   string // update, delete; optional for add
	From int    // add
	To   int    // add
	Data map[string]any
}

// ChangeEvent is one document change as seen by the engine. Before is the snapshot the
// change was made against, After the snapshot it produced.
type ChangeEvent struct {
	Origin Origin
	Steps  []crdt.Step
	Action *Action
	Before Snapshot
	After  Snapshot
}
