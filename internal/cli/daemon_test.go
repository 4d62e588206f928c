package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

func TestDaemonRunsSubmittedProcesses(t *testing.T) {
	db := tempDB(t)

	resp, err := executeJSON(t, db, "run", "add", "-i", "x=2", "-i", "y=3", "--detach")
	require.NoError(t, err)
	sub := decodeData[RunResult](t, resp)
	assert.True(t, sub.Submitted)

	show, err := executeJSON(t, db, "node", "show", formatPK(sub.PK))
	require.NoError(t, err)
	assert.Equal(t, ir.IRString(ir.StateCreated), decodeData[NodeView](t, show).Attributes[ir.AttrProcessState])

	out, err := execute(t, db, "daemon", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Daemon stopped after resuming 1 process(es)")

	show, err = executeJSON(t, db, "node", "show", formatPK(sub.PK))
	require.NoError(t, err)
	view := decodeData[NodeView](t, show)
	assert.Equal(t, ir.IRString(ir.StateFinished), view.Attributes[ir.AttrProcessState])
	assert.Equal(t, ir.IRInt(0), view.Attributes[ir.AttrExitStatus])

	out, err = execute(t, db, "daemon", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "resuming 0 process(es)")
}

func TestDaemonRejectsPoll(t *testing.T) {
	_, err := execute(t, tempDB(t), "daemon", "--poll", "0s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "must be positive")
}
