package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSetGetDelete(t *testing.T) {
	m := NewDoc("a").Map("notes")

	require.NoError(t, m.Set("k", []byte(`"v"`)))
	v, ok := m.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `"v"`, string(v))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete("k"))
	_, ok = m.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())

	assert.ErrorIs(t, m.Set("", []byte(`1`)), ErrEmptyKey)
}

func TestMapTransactionBatchesIntoOneUpdate(t *testing.T) {
	d := NewDoc("a")
	m := d.Map("notes")
	var updates []Update
	d.OnUpdate(func(u Update) { updates = append(updates, u) })
	var events []MapEvent
	m.Observe(func(ev MapEvent) { events = append(events, ev) })

	err := m.Transact("batch", func() error {
		for _, k := range []string{"c", "a", "b"} {
			if err := m.Set(k, []byte(`1`)); err != nil {
				return err
			}
		}
		v, ok := m.Get("a")
		assert.True(t, ok, "writes are visible inside the transaction")
		assert.JSONEq(t, `1`, string(v))
		return nil
	})
	require.NoError(t, err)

	require.Len(t, updates, 1)
	assert.Equal(t, "batch", updates[0].Origin)
	assert.Len(t, updates[0].Entries, 3)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"a", "b", "c"}, events[0].Keys)
	assert.True(t, events[0].Local)
}

func TestMapTransactionFailureAppliesNothing(t *testing.T) {
	d := NewDoc("a")
	m := d.Map("notes")
	var updates []Update
	d.OnUpdate(func(u Update) { updates = append(updates, u) })

	boom := errors.New("boom")
	err := m.Transact("batch", func() error {
		_ = m.Set("a", []byte(`1`))
		return boom
	})
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, updates)
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestMapLastWriterWins(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	var fromA, fromB []Update
	a.OnUpdate(func(u Update) { fromA = append(fromA, u) })
	b.OnUpdate(func(u Update) { fromB = append(fromB, u) })

	require.NoError(t, a.Map("m").Set("k", []byte(`"a"`)))
	require.NoError(t, b.Map("m").Set("k", []byte(`"b"`)))

	for _, u := range fromB {
		_, err := a.Apply(u)
		require.NoError(t, err)
	}
	for _, u := range fromA {
		_, err := b.Apply(u)
		require.NoError(t, err)
	}

	va, _ := a.Map("m").Get("k")
	vb, _ := b.Map("m").Get("k")
	assert.Equal(t, string(va), string(vb))
	assert.JSONEq(t, `"b"`, string(va), "equal clocks resolve to the higher peer id")
}

func TestMapDeleteTombstoneBeatsOlderWrite(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	var fromA []Update
	a.OnUpdate(func(u Update) { fromA = append(fromA, u) })

	require.NoError(t, a.Map("m").Set("k", []byte(`1`)))
	require.NoError(t, a.Map("m").Delete("k"))

	// Deliver the delete before the original write.
	_, err := b.Apply(fromA[1])
	require.NoError(t, err)
	_, err = b.Apply(fromA[0])
	require.NoError(t, err)

	_, ok := b.Map("m").Get("k")
	assert.False(t, ok)
}

func TestMapRemoteMergeNotifies(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	var fromA []Update
	a.OnUpdate(func(u Update) { fromA = append(fromA, u) })
	require.NoError(t, a.Map("m").Transact("writer", func() error {
		return a.Map("m").Set("k", []byte(`1`))
	}))

	var events []MapEvent
	stop := b.Map("m").Observe(func(ev MapEvent) { events = append(events, ev) })
	_, err := b.Apply(fromA[0])
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Local)
	assert.Equal(t, "writer", events[0].Origin)

	// Re-delivery changes nothing and stays silent.
	_, err = b.Apply(Update{Peer: "a", Map: "m", Entries: fromA[0].Entries})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	stop()
	require.NoError(t, a.Map("m").Set("k", []byte(`2`)))
	_, err = b.Apply(fromA[1])
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
