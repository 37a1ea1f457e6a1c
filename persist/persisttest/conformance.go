// Package persisttest holds behavior checks shared by every persist.Log backend.
package persisttest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/crdt"
	"collabtext/persist"
)

// Run exercises log against the append-order and isolation guarantees.
// The log must be empty for the document ids "doc-a" and "doc-b".
func Run(t *testing.T, log persist.Log) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown document is empty", func(t *testing.T) {
		got, err := log.Load(ctx, "doc-missing")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("append order is preserved", func(t *testing.T) {
		src := crdt.NewDoc("writer")
		var updates []crdt.Update
		src.OnUpdate(func(u crdt.Update) { updates = append(updates, u) })

		_, err := src.Insert(0, "hello")
		require.NoError(t, err)
		_, err = src.Insert(5, " world")
		require.NoError(t, err)
		_, err = src.Delete(0, 1)
		require.NoError(t, err)
		require.NoError(t, src.Map("annotations").Set("a1", json.RawMessage(`{"n":1}`)))

		for _, u := range updates {
			require.NoError(t, log.Append(ctx, "doc-a", u))
		}
		got, err := log.Load(ctx, "doc-a")
		require.NoError(t, err)
		require.Len(t, got, len(updates))
		for i := range updates {
			assert.Equal(t, updates[i].Peer, got[i].Peer)
			assert.Len(t, got[i].Text, len(updates[i].Text))
			assert.Len(t, got[i].Entries, len(updates[i].Entries))
		}

		dst := crdt.NewDoc("reader")
		for _, u := range got {
			_, err := dst.Apply(u)
			require.NoError(t, err)
		}
		assert.Equal(t, "ello world", dst.Text())
		v, ok := dst.Map("annotations").Get("a1")
		require.True(t, ok)
		assert.JSONEq(t, `{"n":1}`, string(v))
	})

	t.Run("documents are isolated", func(t *testing.T) {
		u := crdt.Update{Peer: "p", Text: []crdt.Op{{
			Action: crdt.ActionInsert,
			Char:   crdt.Char{ID: crdt.CharID{Clock: 1, PeerID: "p"}, Value: "x"},
		}}}
		require.NoError(t, log.Append(ctx, "doc-b", u))

		b, err := log.Load(ctx, "doc-b")
		require.NoError(t, err)
		assert.Len(t, b, 1)

		a, err := log.Load(ctx, "doc-a")
		require.NoError(t, err)
		for _, got := range a {
			assert.NotEqual(t, "p", got.Peer)
		}
	})
}
