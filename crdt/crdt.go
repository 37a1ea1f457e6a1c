// Package crdt implements the replicated document shared by collabtext peers: an RGA text
// sequence and last-writer-wins maps, all stamped from one Lamport clock per replica.
package crdt

import "fmt"

// CharID is a globally unique identifier for a character, combining a logical clock
// and the ID of the peer that created it.
type CharID struct {
	Clock  int    `json:"clock"`
	PeerID string `json:"peerID"`
}

// Less orders ids by clock, breaking ties by peer.
func (id CharID) Less(other CharID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.PeerID < other.PeerID
}

// Char represents a single character in the sequence. Origin is the character that was
// immediately to its left when it was typed; nil means the start of the document.
type Char struct {
	ID     CharID  `json:"id"`
	Origin *CharID `json:"origin,omitempty"`
	Value  string  `json:"value"`
}

// Sequence op actions.
const (
	ActionInsert = "crdt_insert"
	ActionDelete = "crdt_delete"
)

// Op is a single sequence operation as sent over the network.
type Op struct {
	Action string `json:"action"` // "crdt_insert", "crdt_delete"
	Char   Char   `json:"char"`   // for deletes only Char.ID is meaningful
}

// Step is one structural edit of the visible text: Deleted characters removed at Pos,
// then Inserted characters added there. Steps of one change apply in order, each against
// the text produced by the previous one.
type Step struct {
	Pos      int `json:"pos"`
	Deleted  int `json:"deleted,omitempty"`
	Inserted int `json:"inserted,omitempty"`
}

// Update is the message exchanged between replicas. It carries either sequence ops,
// map entries, or both.
type Update struct {
	Peer    string     `json:"peer"`
	Origin  string     `json:"origin,omitempty"`
	Text    []Op       `json:"text,omitempty"`
	Map     string     `json:"map,omitempty"`
	Entries []MapEntry `json:"entries,omitempty"`
}

// Empty reports whether the update carries nothing to apply.
func (u Update) Empty() bool {
	return len(u.Text) == 0 && len(u.Entries) == 0
}

// Validate reports the first malformed op or entry. An update that fails validation must not
// be applied, stored or forwarded.
func (u Update) Validate() error {
	for i, op := range u.Text {
		if op.Action != ActionInsert && op.Action != ActionDelete {
			return fmt.Errorf("%w: op %d has action %q", ErrUnknownAction, i, op.Action)
		}
	}
	if len(u.Entries) > 0 && u.Map == "" {
		return fmt.Errorf("%w: entries without a map name", ErrEmptyKey)
	}
	for i, e := range u.Entries {
		if e.Key == "" {
			return fmt.Errorf("%w: entry %d", ErrEmptyKey, i)
		}
	}
	return nil
}
