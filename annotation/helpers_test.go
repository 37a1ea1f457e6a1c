package annotation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"collabtext/crdt"
)

// flakyMap counts transactions and can be told to reject writes.
type flakyMap struct {
	*crdt.Map
	transactions int
	failWrites   error
}

func (f *flakyMap) Transact(origin string, fn func() error) error {
	f.transactions++
	return f.Map.Transact(origin, fn)
}

func (f *flakyMap) Set(key string, value []byte) error {
	if f.failWrites != nil {
		return f.failWrites
	}
	return f.Map.Set(key, value)
}

var errOffline = errors.New("replica offline")

type fixture struct {
	doc    *crdt.Doc
	m      *flakyMap
	store  *Store
	engine *Engine
	events []Event
}

func newFixture(t *testing.T, text string) *fixture {
	t.Helper()
	f := &fixture{doc: crdt.NewDoc("p1")}
	f.m = &flakyMap{Map: f.doc.Map("annotations")}
	f.store = NewStore(f.m)
	f.engine = New(f.store, Options{
		Replica:    "p1",
		Attributes: map[string]string{"class": "annotation"},
		IDs:        &CounterGenerator{Replica: "p1"},
		Observer:   ObserverFunc(func(ev Event) { f.events = append(f.events, ev) }),
	})
	if text != "" {
		_, err := f.doc.Insert(0, text)
		require.NoError(t, err)
	}
	return f
}

// add stores an annotation with a fixed id and rebuilds, as the store echo would.
func (f *fixture) add(t *testing.T, id string, from, to int, data map[string]any) {
	t.Helper()
	snap := f.doc.Snapshot()
	err := f.engine.Apply(ChangeEvent{
		Origin: Local,
		Action: &Action{Type: ActionAdd, ID: id, From: from, To: to, Data: data},
		Before: snap,
		After:  snap,
	})
	require.NoError(t, err)
	f.rebuild(t)
}

func (f *fixture) rebuild(t *testing.T) {
	t.Helper()
	snap := f.doc.Snapshot()
	require.NoError(t, f.engine.Apply(ChangeEvent{Action: &Action{Type: ActionForceRebuild}, After: snap}))
}

func (f *fixture) insert(t *testing.T, pos int, text string) error {
	t.Helper()
	before := f.doc.Snapshot()
	steps, err := f.doc.Insert(pos, text)
	require.NoError(t, err)
	return f.engine.Apply(ChangeEvent{Origin: Local, Steps: steps, Before: before, After: f.doc.Snapshot()})
}

func (f *fixture) delete(t *testing.T, pos, n int) error {
	t.Helper()
	before := f.doc.Snapshot()
	steps, err := f.doc.Delete(pos, n)
	require.NoError(t, err)
	return f.engine.Apply(ChangeEvent{Origin: Local, Steps: steps, Before: before, After: f.doc.Snapshot()})
}

func (f *fixture) count(kind EventKind) int {
	n := 0
	for _, ev := range f.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// resolved returns the offsets the stored anchors of id resolve to right now.
func (f *fixture) resolved(t *testing.T, id string) (int, int) {
	t.Helper()
	rec, err := f.store.Read(id)
	require.NoError(t, err)
	snap := f.doc.Snapshot()
	from, err := ToAbsolute(snap, rec.Start)
	require.NoError(t, err)
	to, err := ToAbsolute(snap, rec.End)
	require.NoError(t, err)
	return from, to
}
