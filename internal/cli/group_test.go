package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

func TestGroupLifecycle(t *testing.T) {
	db := tempDB(t)
	_, a := runAdd(t, db, 1, 2)
	_, b := runAdd(t, db, 3, 4)

	resp, err := executeJSON(t, db, "group", "create", "sums", "--description", "two sums")
	require.NoError(t, err)
	created := decodeData[GroupView](t, resp)
	assert.Equal(t, "sums", created.Label)
	assert.Equal(t, "core", created.Type)
	assert.Equal(t, 0, created.Size)

	resp, err = executeJSON(t, db, "group", "add", "sums", formatPK(a), formatPK(b))
	require.NoError(t, err)
	view := decodeData[GroupView](t, resp)
	assert.Equal(t, 2, view.Size)
	assert.ElementsMatch(t, []int64{a, b}, memberPKs(view))

	resp, err = executeJSON(t, db, "group", "remove", "sums", formatPK(a))
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, memberPKs(decodeData[GroupView](t, resp)))

	out, err := execute(t, db, "group", "show", "sums")
	require.NoError(t, err)
	assert.Contains(t, out, "sums (pk")
	assert.Contains(t, out, "two sums")
	assert.Contains(t, out, "data.core.int")

	out, err = execute(t, db, "group", "delete", "sums")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Group sums deleted")

	_, err = execute(t, db, "node", "show", formatPK(b))
	require.NoError(t, err, "deleting a group keeps its nodes")
}

func TestGroupListOrdered(t *testing.T) {
	db := tempDB(t)
	for _, label := range []string{"zeta", "alpha", "mid"} {
		_, err := execute(t, db, "group", "create", label)
		require.NoError(t, err)
	}

	resp, err := executeJSON(t, db, "group", "list")
	require.NoError(t, err)
	list := decodeData[GroupList](t, resp)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Label)
	assert.Equal(t, "mid", list[1].Label)
	assert.Equal(t, "zeta", list[2].Label)
}

func TestGroupErrors(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, db, "group", "create", "dup")
	require.NoError(t, err)

	resp, err := executeJSON(t, db, "group", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, string(ir.CodeNotExistent), resp.Error.Code)

	resp, err = executeJSON(t, db, "group", "add", "dup", "999")
	require.Error(t, err)
	assert.Equal(t, string(ir.CodeNotExistent), resp.Error.Code)

	_, err = execute(t, db, "group", "create", "dup")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGroupListEmptyText(t *testing.T) {
	out, err := execute(t, tempDB(t), "group", "list")
	require.NoError(t, err)
	assert.Equal(t, "No groups.\n", out)
}

func memberPKs(v GroupView) []int64 {
	pks := make([]int64, 0, len(v.Members))
	for _, m := range v.Members {
		pks = append(pks, m.PK)
	}
	return pks
}
