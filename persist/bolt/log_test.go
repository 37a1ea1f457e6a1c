package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/crdt"
	"collabtext/persist/persisttest"
)

func TestLogConformance(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "updates.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	persisttest.Run(t, l)
}

func TestDocumentsListsBuckets(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "updates.bolt"))
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "one", crdt.Update{Peer: "p"}))
	require.NoError(t, l.Append(ctx, "two", crdt.Update{Peer: "p"}))
	require.NoError(t, l.Append(ctx, "two", crdt.Update{Peer: "q"}))

	ids, err := l.Documents()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, ids)

	got, err := l.Load(ctx, "two")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q", got[1].Peer)
}

func TestCanceledContext(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "updates.bolt"))
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Append(ctx, "d", crdt.Update{}), context.Canceled)
}
