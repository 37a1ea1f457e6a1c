package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/crdt"
)

func TestTranslatorRoundTrip(t *testing.T) {
	doc := crdt.NewDoc("p1")
	_, err := doc.Insert(0, "hello world")
	require.NoError(t, err)
	_, err = doc.Delete(2, 3)
	require.NoError(t, err)
	_, err = doc.Insert(4, "XYZ")
	require.NoError(t, err)

	snap := doc.Snapshot()
	for o := 0; o <= snap.Len(); o++ {
		a, err := ToAnchor(snap, o)
		require.NoError(t, err)
		got, err := ToAbsolute(snap, a)
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
}

func TestToAnchorOutOfBounds(t *testing.T) {
	doc := crdt.NewDoc("p1")
	_, err := doc.Insert(0, "abc")
	require.NoError(t, err)

	_, err = ToAnchor(doc.Snapshot(), 4)
	assert.ErrorIs(t, err, crdt.ErrInvalidPosition)
	_, err = ToAnchor(doc.Snapshot(), -1)
	assert.ErrorIs(t, err, crdt.ErrInvalidPosition)
}

func TestToAbsoluteUnresolved(t *testing.T) {
	a := crdt.NewDoc("a")
	_, err := a.Insert(0, "abc")
	require.NoError(t, err)
	anchor, err := ToAnchor(a.Snapshot(), 1)
	require.NoError(t, err)

	_, err = ToAbsolute(crdt.NewDoc("b").Snapshot(), anchor)
	assert.ErrorIs(t, err, ErrUnresolvedAnchor)
}

func TestMapPosition(t *testing.T) {
	tests := []struct {
		name  string
		steps []crdt.Step
		pos   int
		assoc int
		want  int
	}{
		{"before insert", []crdt.Step{{Pos: 5, Inserted: 3}}, 2, 1, 2},
		{"after insert", []crdt.Step{{Pos: 5, Inserted: 3}}, 7, 1, 10},
		{"at insert, stick after", []crdt.Step{{Pos: 5, Inserted: 3}}, 5, 1, 8},
		{"at insert, stick before", []crdt.Step{{Pos: 5, Inserted: 3}}, 5, -1, 5},
		{"after delete", []crdt.Step{{Pos: 2, Deleted: 3}}, 9, 1, 6},
		{"inside delete", []crdt.Step{{Pos: 2, Deleted: 3}}, 3, 1, 2},
		{"at delete start", []crdt.Step{{Pos: 2, Deleted: 3}}, 2, 1, 2},
		{"at delete end", []crdt.Step{{Pos: 2, Deleted: 3}}, 5, -1, 2},
		{"inside replace, stick after", []crdt.Step{{Pos: 2, Deleted: 3, Inserted: 4}}, 3, 1, 6},
		{"inside replace, stick before", []crdt.Step{{Pos: 2, Deleted: 3, Inserted: 4}}, 3, -1, 2},
		{"sequential steps", []crdt.Step{{Pos: 0, Inserted: 2}, {Pos: 4, Deleted: 1}}, 6, 1, 7},
		{"no steps", nil, 4, 1, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapPosition(tt.steps, tt.pos, tt.assoc))
		})
	}
}
