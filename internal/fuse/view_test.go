package fuse

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systemshift/memex-log/internal/dag"
	"github.com/systemshift/memex-log/internal/replica"
)

func newView(t *testing.T) *logView {
	t.Helper()
	repo, err := dag.OpenRepositoryWithStore(t.TempDir(), dag.NewMemoryStore())
	require.NoError(t, err)
	return &logView{replica: replica.New(repo), writer: "A"}
}

func TestLogView_Empty(t *testing.T) {
	ctx := context.Background()
	v := newView(t)

	head, err := v.head(ctx)
	require.NoError(t, err)
	require.Equal(t, "(none)\n", string(head))

	n, err := v.count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = v.item(ctx, 0)
	require.ErrorIs(t, err, dag.ErrNotFound)
	require.Equal(t, toErrno(err), toErrno(dag.ErrNotFound))
}

func TestLogView_AppendLines(t *testing.T) {
	ctx := context.Background()
	v := newView(t)

	for _, line := range []string{"hello1\n", "hello2", "hello3\n\n", "\n"} {
		require.NoError(t, v.appendLine(ctx, line))
	}

	head, err := v.head(ctx)
	require.NoError(t, err)
	require.Equal(t, "QmThvyS6FUsHvT7oC2pGNMTAdhjUncNsVMbXAkUB72J8n1\n", string(head))

	heads, err := v.heads(ctx)
	require.NoError(t, err)
	require.Equal(t, "A.0.2.QmT6wQwBZsH6b3jQVxmM5L7kqV39nr3F99yd5tN6nviQPe\n", string(heads))

	item, err := v.item(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, `{"id":"A","seq":0,"ver":0,"data":"hello1","next":[]}`+"\n", string(item))

	log, err := v.log(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(log), "id: A, seq: 0, ver: 3, items:\n"))
	require.Equal(t, 4, strings.Count(string(log), "\n"))

	cps, err := v.history(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 3)

	data, err := v.checkpoint(ctx, 0)
	require.NoError(t, err)
	var cp dag.Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	require.Equal(t, "QmThvyS6FUsHvT7oC2pGNMTAdhjUncNsVMbXAkUB72J8n1", cp.Root)
	require.Equal(t, 3, cp.Items)

	_, err = v.checkpoint(ctx, 3)
	require.ErrorIs(t, err, dag.ErrNotFound)
}

func TestAppendHandle_FlushAppends(t *testing.T) {
	ctx := context.Background()
	v := newView(t)
	h := &AppendHandle{view: v}

	_, errno := h.Write(ctx, []byte("hello"), 0)
	require.Zero(t, errno)
	_, errno = h.Write(ctx, []byte("1\n"), 5)
	require.Zero(t, errno)
	require.Zero(t, h.Flush(ctx))
	// A second flush without writes is a no-op.
	require.Zero(t, h.Flush(ctx))

	item, err := v.item(ctx, 0)
	require.NoError(t, err)
	require.Contains(t, string(item), `"data":"hello1"`)

	n, err := v.count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, errno = h.Write(ctx, []byte("x"), maxWriteSize)
	require.NotZero(t, errno)
}

func TestReadAt(t *testing.T) {
	data := []byte("abcdef")
	require.Equal(t, "abc", string(readAt(data, make([]byte, 3), 0)))
	require.Equal(t, "ef", string(readAt(data, make([]byte, 3), 4)))
	require.Nil(t, readAt(data, make([]byte, 3), 6))
}

func TestIndexEntries(t *testing.T) {
	entries := indexEntries("items", 3)
	require.Len(t, entries, 3)
	require.Equal(t, "2", entries[2].Name)
	require.Equal(t, stableIno("items/2"), entries[2].Ino)
	require.NotEqual(t, entries[0].Ino, entries[1].Ino)
}
