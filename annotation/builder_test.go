package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/crdt"
)

func TestBuildResolvesEveryRecord(t *testing.T) {
	f := newFixture(t, "hello brave new world")
	f.add(t, "b", 6, 11, map[string]any{"note": "brave"})
	f.add(t, "a", 0, 5, map[string]any{"note": "hello"})
	f.add(t, "c", 6, 15, nil)

	got := Builder{Attrs: map[string]string{"class": "hl"}}.Build(f.store, f.doc.Snapshot())
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 6, got[1].From)
	assert.Equal(t, 11, got[1].To)
	assert.Equal(t, "brave", got[1].Data["note"])
	assert.Equal(t, "hl", got[2].Attrs["class"])
}

func TestBuildIsIdempotent(t *testing.T) {
	f := newFixture(t, "one two three four")
	f.add(t, "x", 0, 3, nil)
	f.add(t, "y", 4, 7, map[string]any{"n": 1})
	f.add(t, "z", 8, 18, nil)

	b := Builder{}
	first := b.Build(f.store, f.doc.Snapshot())
	second := b.Build(f.store, f.doc.Snapshot())
	assert.Equal(t, first, second)
}

func TestBuildSkipsUnresolvedAnchors(t *testing.T) {
	f := newFixture(t, "hello")
	other := crdt.NewDoc("p2")
	_, err := other.Insert(0, "elsewhere")
	require.NoError(t, err)
	start, end, err := anchorRange(other.Snapshot(), 0, 4)
	require.NoError(t, err)
	require.NoError(t, f.store.Create("orphan", start, end, nil))

	got := Builder{Observer: ObserverFunc(func(ev Event) { f.events = append(f.events, ev) })}.Build(f.store, f.doc.Snapshot())
	assert.Empty(t, got)
	assert.Equal(t, 1, f.count(EventAnchorUnresolved))

	_, err = f.store.Read("orphan")
	assert.NoError(t, err, "orphaned records stay in the store")
}

func TestBuildDropsCollapsedSpans(t *testing.T) {
	f := newFixture(t, "hello world")
	f.add(t, "a1", 0, 5, nil)
	_, err := f.doc.Delete(0, 5)
	require.NoError(t, err)

	got := f.engine.builder.Build(f.store, f.doc.Snapshot())
	assert.Empty(t, got)
	assert.Equal(t, 1, f.count(EventDegenerateSpan))
}

func TestBuildAttrsAreCopied(t *testing.T) {
	f := newFixture(t, "hello world")
	f.add(t, "a", 0, 5, nil)
	f.add(t, "b", 6, 11, nil)

	got := Builder{Attrs: map[string]string{"class": "hl"}}.Build(f.store, f.doc.Snapshot())
	got[0].Attrs["class"] = "changed"
	assert.Equal(t, "hl", got[1].Attrs["class"])
}
