package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

func TestFiles_StoreListRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n, err := s.NewNode("data.core.folder")
	require.NoError(t, err)
	require.NoError(t, n.PutFile("b.txt", []byte("bee")))
	require.NoError(t, n.PutFile("sub/a.txt", []byte("ay")))
	require.NoError(t, n.PutFile("sub/deep/c.txt", []byte("sea")))
	require.NoError(t, n.PutFile("subway.txt", []byte("not in sub")))

	content, err := s.ReadFile(ctx, n, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("bee"), content)

	require.NoError(t, s.StoreNode(ctx, n))

	all, err := s.ListFiles(ctx, n, "")
	require.NoError(t, err)
	paths := make([]string, len(all))
	for i, f := range all {
		paths[i] = f.Path
	}
	assert.Equal(t, []string{"b.txt", "sub/a.txt", "sub/deep/c.txt", "subway.txt"}, paths)
	assert.Equal(t, int64(3), all[0].Size)
	assert.Equal(t, ir.ObjectKey([]byte("bee")), all[0].ObjectKey)

	sub, err := s.ListFiles(ctx, n, "sub/")
	require.NoError(t, err)
	require.Len(t, sub, 2)
	assert.Equal(t, "sub/a.txt", sub[0].Path)

	content, err = s.ReadFile(ctx, n, "sub/deep/c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("sea"), content)

	_, err = s.ReadFile(ctx, n, "missing.txt")
	assert.True(t, ir.IsNotExistent(err))

	assert.True(t, ir.IsModificationNotAllowed(n.PutFile("late.txt", nil)))
}

func TestFiles_ContentAffectsHash(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mk := func(content string) string {
		n, err := s.NewNode("data.core.singlefile")
		require.NoError(t, err)
		require.NoError(t, n.PutFile("f", []byte(content)))
		require.NoError(t, s.StoreNode(ctx, n))
		return n.Hash()
	}
	assert.Equal(t, mk("x"), mk("x"))
	assert.NotEqual(t, mk("x"), mk("y"))
}
