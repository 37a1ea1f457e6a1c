package annotation

import (
	"maps"
	"sort"
)

// Builder derives overlays from the store. The zero value is usable.
type Builder struct {
	Attrs    map[string]string // copied onto every span
	Replica  string            // diagnostic label on emitted events
	Observer Observer
}

// Build resolves every stored annotation against snap. Records whose anchors do not resolve,
// or that resolve to zero or negative width, are left out of the overlay but stay in the store.
// The result is sorted, so two builds over the same inputs are equal.
func (b Builder) Build(store *Store, snap Snapshot) Overlay {
	obs := b.observer()
	out := make(Overlay, 0, store.Len())
	store.ForEach(func(id string, rec Record, err error) {
		if err != nil {
			obs.Observe(Event{Kind: EventAnchorUnresolved, Replica: b.Replica, ID: id, Err: err})
			return
		}
		from, err := ToAbsolute(snap, rec.Start)
		if err != nil {
			obs.Observe(Event{Kind: EventAnchorUnresolved, Replica: b.Replica, ID: id, Err: err})
			return
		}
		to, err := ToAbsolute(snap, rec.End)
		if err != nil {
			obs.Observe(Event{Kind: EventAnchorUnresolved, Replica: b.Replica, ID: id, Err: err})
			return
		}
		if from >= to {
			obs.Observe(Event{Kind: EventDegenerateSpan, Replica: b.Replica, ID: id, From: from, To: to, Err: ErrDegenerateSpan})
			return
		}
		out = append(out, Span{ID: id, From: from, To: to, Data: rec.Data, Attrs: maps.Clone(b.Attrs)})
	})
	out.sort()
	return out
}

func (b Builder) observer() Observer {
	if b.Observer == nil {
		return nopObserver{}
	}
	return b.Observer
}

// Overlay is the render-ready set of resolved spans, ordered by From, To, then ID.
type Overlay []Span

func (o Overlay) sort() {
	sort.Slice(o, func(i, j int) bool {
		if o[i].From != o[j].From {
			return o[i].From < o[j].From
		}
		if o[i].To != o[j].To {
			return o[i].To < o[j].To
		}
		return o[i].ID < o[j].ID
	})
}

func (o Overlay) clone() Overlay {
	if o == nil {
		return nil
	}
	return append(Overlay(nil), o...)
}
