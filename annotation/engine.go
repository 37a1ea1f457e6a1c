package annotation

import (
	"errors"
	"fmt"
	"time"

	"collabtext/crdt"
)

// DefaultWriteBackOrigin tags the transactions the engine writes after local edits.
const DefaultWriteBackOrigin = "annotation-writeback"

// Options configures an Engine.
type Options struct {
	// Attributes are copied onto every span for the renderer.
	Attributes map[string]string

	// Replica labels this replica in events and metrics.
	Replica string

	// WriteBackOrigin tags write-back transactions so their echo can be recognised.
	// Defaults to DefaultWriteBackOrigin.
	WriteBackOrigin string

	// IDs issues ids for added annotations. Defaults to UUIDGenerator.
	IDs IDGenerator

	// Observer receives engine events. Defaults to a no-op.
	Observer Observer
}

// Engine keeps the overlay for one document session in step with the annotation store.
// It is not safe for concurrent use: change events must be applied one at a time, in order.
type Engine struct {
	store   *Store
	builder Builder
	overlay Overlay
	origin  string
	ids     IDGenerator
	obs     Observer

	// stale is set when a write-back failed; the next event rebuilds from the store
	// instead of remapping an overlay whose coordinates are out of date.
	stale bool
}

// New creates an engine over store with an empty overlay.
func New(store *Store, opts Options) *Engine {
	if opts.WriteBackOrigin == "" {
		opts.WriteBackOrigin = DefaultWriteBackOrigin
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	var obs Observer = nopObserver{}
	if opts.Observer != nil {
		obs = opts.Observer
	}
	return &Engine{
		store:   store,
		builder: Builder{Attrs: opts.Attributes, Replica: opts.Replica, Observer: obs},
		origin:  opts.WriteBackOrigin,
		ids:     opts.IDs,
		obs:     obs,
	}
}

// Store returns the store the engine reconciles against.
func (e *Engine) Store() *Store {
	return e.store
}

// WriteBackOrigin returns the origin tag of the engine's own write-back transactions.
func (e *Engine) WriteBackOrigin() string {
	return e.origin
}

// Overlay returns a copy of the current overlay.
func (e *Engine) Overlay() Overlay {
	return e.overlay.clone()
}

// Len returns the number of spans in the overlay.
func (e *Engine) Len() int {
	return len(e.overlay)
}

// FindAt returns the overlay spans touching offset.
func (e *Engine) FindAt(offset int) []Span {
	return e.overlay.FindAt(offset)
}

// FindInRange returns the overlay spans overlapping [from, to].
func (e *Engine) FindInRange(from, to int) []Span {
	return e.overlay.FindInRange(from, to)
}

// FindByID returns the overlay span for id.
func (e *Engine) FindByID(id string) (Span, bool) {
	return e.overlay.FindByID(id)
}

// Apply reconciles the overlay with one change event.
//
// An explicit action is dispatched to the store; only forceRebuild touches the overlay, the
// other actions reach it through the store echo that follows. Without an action, a remote
// change rebuilds the overlay from the store and a local change remaps it through the edit
// and writes the new anchors back in one transaction.
func (e *Engine) Apply(ev ChangeEvent) error {
	switch {
	case ev.Action != nil:
		return e.dispatch(ev)
	case ev.Origin == Remote || e.stale:
		e.rebuild(ev.After)
		return nil
	default:
		return e.remap(ev)
	}
}

// Add stores a new annotation over [from, to) of snap and returns its id.
func (e *Engine) Add(snap Snapshot, from, to int, data map[string]any) (string, error) {
	act := &Action{Type: ActionAdd, ID: e.ids.NewID(), From: from, To: to, Data: data}
	if err := e.Apply(ChangeEvent{Origin: Local, Action: act, Before: snap, After: snap}); err != nil {
		return "", err
	}
	return act.ID, nil
}

func (e *Engine) dispatch(ev ChangeEvent) error {
	act := ev.Action
	var err error
	switch act.Type {
	case ActionAdd:
		err = e.add(ev.Before, act)
	case ActionUpdate:
		err = e.store.Update(act.ID, act.Data)
	case ActionDelete:
		err = e.store.Delete(act.ID)
	case ActionForceRebuild:
		e.rebuild(ev.After)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, act.Type)
	}
	if err != nil {
		return fmt.Errorf("%s annotation %s: %w", act.Type, act.ID, err)
	}
	e.obs.Observe(Event{Kind: EventActionApplied, Replica: e.builder.Replica, ID: act.ID, Action: act.Type})
	return nil
}

func (e *Engine) add(snap Snapshot, act *Action) error {
	if snap == nil || act.From >= act.To || act.From < 0 || act.To > snap.Len() {
		return ErrInvalidRange
	}
	start, end, err := anchorRange(snap, act.From, act.To)
	if err != nil {
		return err
	}
	if act.ID == "" {
		act.ID = e.ids.NewID()
	}
	return e.store.Create(act.ID, start, end, act.Data)
}

func (e *Engine) rebuild(snap Snapshot) {
	if snap == nil {
		return
	}
	started := time.Now()
	e.overlay = e.builder.Build(e.store, snap)
	e.stale = false
	e.obs.Observe(Event{
		Kind:     EventOverlayRebuilt,
		Replica:  e.builder.Replica,
		Spans:    len(e.overlay),
		Duration: time.Since(started),
	})
}

// remap moves every span through the edit. Starts shift on insertions at the start; ends
// grow on insertions at the end, so typing at the end of an annotated run extends it.
func (e *Engine) remap(ev ChangeEvent) error {
	if len(e.overlay) == 0 {
		return nil
	}
	started := time.Now()
	next := make(Overlay, 0, len(e.overlay))
	for _, sp := range e.overlay {
		from := MapPosition(ev.Steps, sp.From, 1)
		to := MapPosition(ev.Steps, sp.To, 1)
		if from >= to {
			e.obs.Observe(Event{Kind: EventDegenerateSpan, Replica: e.builder.Replica, ID: sp.ID, From: from, To: to, Err: ErrDegenerateSpan})
			continue
		}
		if from != sp.From || to != sp.To {
			e.obs.Observe(Event{Kind: EventSpanRemapped, Replica: e.builder.Replica, ID: sp.ID, From: from, To: to})
		}
		sp.From, sp.To = from, to
		next = append(next, sp)
	}
	next.sort()

	var gone []string
	err := e.store.Transact(e.origin, func() error {
		gone = gone[:0]
		for _, sp := range next {
			start, end, err := anchorRange(ev.After, sp.From, sp.To)
			if err != nil {
				return err
			}
			err = e.store.UpdateAnchors(sp.ID, start, end)
			if errors.Is(err, ErrNotFound) {
				gone = append(gone, sp.ID)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.stale = true
		e.obs.Observe(Event{Kind: EventWriteBackFailed, Replica: e.builder.Replica, Spans: len(next), Err: err})
		return fmt.Errorf("write back anchors: %w", err)
	}

	e.overlay = dropIDs(next, gone)
	e.obs.Observe(Event{Kind: EventWriteBack, Replica: e.builder.Replica, Spans: len(e.overlay), Duration: time.Since(started)})
	return nil
}

func dropIDs(o Overlay, ids []string) Overlay {
	if len(ids) == 0 {
		return o
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := o[:0]
	for _, sp := range o {
		if _, ok := drop[sp.ID]; !ok {
			out = append(out, sp)
		}
	}
	return out
}

var _ Snapshot = (*crdt.Snapshot)(nil)
var _ ReplicatedMap = (*crdt.Map)(nil)
