// Package session binds one replicated document to one annotation engine.
//
// Local edits become local change events; merged updates become remote change events; changes
// to the annotation map (the store echo of add/update/delete, or another replica's write-back)
// become remote rebuilds. Echoes of the engine's own write-back are dropped.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"collabtext/annotation"
	"collabtext/crdt"
)

// DefaultMap is the document map annotations are stored in.
const DefaultMap = "annotations"

// Options configures a Session.
type Options struct {
	Map    string // defaults to DefaultMap
	Engine annotation.Options
	Logger *slog.Logger
}

// Session owns a document and its engine. All methods are safe for concurrent use; they are
// serialized so that at most one reconciliation runs at a time.
type Session struct {
	mu     sync.Mutex
	doc    *crdt.Doc
	engine *annotation.Engine
	logger *slog.Logger
	echoes int
	stop   func()
}

// New wires doc to a fresh engine over doc's annotation map.
func New(doc *crdt.Doc, opts Options) *Session {
	if opts.Map == "" {
		opts.Map = DefaultMap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Engine.Replica == "" {
		opts.Engine.Replica = doc.Peer()
	}
	m := doc.Map(opts.Map)
	s := &Session{
		doc:    doc,
		engine: annotation.New(annotation.NewStore(m), opts.Engine),
		logger: opts.Logger.With(slog.String("replica", opts.Engine.Replica)),
	}
	s.stop = m.Observe(s.onStoreChange)
	return s
}

// Close detaches the session from the document.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Doc returns the underlying document. Callers must not mutate it directly.
func (s *Session) Doc() *crdt.Doc {
	return s.doc
}

// Text returns the current document text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Text()
}

// OnUpdate registers fn for every update this replica produces. fn runs with the session
// locked and must not call back into it.
func (s *Session) OnUpdate(fn func(crdt.Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.OnUpdate(fn)
}

// onStoreChange runs inside map commits and merges, so it only records that a rebuild is due.
func (s *Session) onStoreChange(ev crdt.MapEvent) {
	if ev.Local && ev.Origin == s.engine.WriteBackOrigin() {
		return
	}
	s.echoes++
}

// drain rebuilds once for all store changes seen since the last pass. Rebuilds are
// idempotent, so several queued echoes need only one.
func (s *Session) drain() {
	if s.echoes == 0 {
		return
	}
	s.echoes = 0
	err := s.engine.Apply(annotation.ChangeEvent{Origin: annotation.Remote, After: s.doc.Snapshot()})
	if err != nil {
		s.logger.Warn("rebuild after store change", slog.String("error", err.Error()))
	}
}

// Insert types text at pos.
func (s *Session) Insert(pos int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.drain()

	before := s.doc.Snapshot()
	steps, err := s.doc.Insert(pos, text)
	if err != nil {
		return fmt.Errorf("insert at %d: %w", pos, err)
	}
	return s.local(before, steps)
}

// Delete removes n characters at pos.
func (s *Session) Delete(pos, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.drain()

	before := s.doc.Snapshot()
	steps, err := s.doc.Delete(pos, n)
	if err != nil {
		return fmt.Errorf("delete %d at %d: %w", n, pos, err)
	}
	return s.local(before, steps)
}

func (s *Session) local(before *crdt.Snapshot, steps []crdt.Step) error {
	if len(steps) == 0 {
		return nil
	}
	return s.engine.Apply(annotation.ChangeEvent{
		Origin: annotation.Local,
		Steps:  steps,
		Before: before,
		After:  s.doc.Snapshot(),
	})
}

// Merge applies an update from another replica.
func (s *Session) Merge(u crdt.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.drain()

	before := s.doc.Snapshot()
	steps, err := s.doc.Apply(u)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}
	return s.engine.Apply(annotation.ChangeEvent{
		Origin: annotation.Remote,
		Steps:  steps,
		Before: before,
		After:  s.doc.Snapshot(),
	})
}

// AddAnnotation annotates [from, to) of the current text and returns the new id.
func (s *Session) AddAnnotation(from, to int, data map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.drain()
	return s.engine.Add(s.doc.Snapshot(), from, to, data)
}

// UpdateAnnotation replaces the payload of id.
func (s *Session) UpdateAnnotation(id string, data map[string]any) error {
	return s.action(&annotation.Action{Type: annotation.ActionUpdate, ID: id, Data: data})
}

// DeleteAnnotation removes id.
func (s *Session) DeleteAnnotation(id string) error {
	return s.action(&annotation.Action{Type: annotation.ActionDelete, ID: id})
}

// Rebuild rederives the overlay from the store.
func (s *Session) Rebuild() error {
	return s.action(&annotation.Action{Type: annotation.ActionForceRebuild})
}

func (s *Session) action(act *annotation.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.drain()
	snap := s.doc.Snapshot()
	return s.engine.Apply(annotation.ChangeEvent{Origin: annotation.Local, Action: act, Before: snap, After: snap})
}

// Overlay returns a copy of the current overlay.
func (s *Session) Overlay() annotation.Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Overlay()
}

// FindAt returns the spans touching offset.
func (s *Session) FindAt(offset int) []annotation.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.FindAt(offset)
}

// FindInRange returns the spans overlapping [from, to].
func (s *Session) FindInRange(from, to int) []annotation.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.FindInRange(from, to)
}

// FindByID returns the span for id.
func (s *Session) FindByID(id string) (annotation.Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.FindByID(id)
}

// State returns updates that rebuild this replica on an empty one.
func (s *Session) State() []crdt.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.State()
}
