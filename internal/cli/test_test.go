package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

// copyScenarios copies the named harness scenarios into a temp dir.
func copyScenarios(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
	}
	return dir
}

func TestTestCommandPasses(t *testing.T) {
	out, err := execute(t, tempDB(t), "test", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ add_multiply")
	assert.Contains(t, out, "✓ nested_exit")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandJSON(t *testing.T) {
	resp, err := executeJSON(t, tempDB(t), "test", scenariosDir, "--filter", "delete_*")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	res := decodeData[TestResult](t, resp)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 4, res.Passed)
	var names []string
	for _, s := range res.Scenarios {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"delete_closure", "delete_dry_run", "delete_looped_graph", "delete_simple_graph"}, names)
}

func TestTestCommandGolden(t *testing.T) {
	dir := copyScenarios(t, "add_multiply")
	golden := filepath.Join(dir, "golden", "add_multiply.golden")

	out, err := execute(t, tempDB(t), "test", dir, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(golden updated)")
	require.FileExists(t, golden)

	out, err = execute(t, tempDB(t), "test", dir)
	require.NoError(t, err, out)

	require.NoError(t, os.WriteFile(golden, []byte(`{"nodes":[]}`), 0o644))
	out, err = execute(t, tempDB(t), "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "graph does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`name: wrong
runs:
  - id: calc
    process: add
    inputs: {x: 1, y: 1}
assertions:
  - type: process
    ref: calc
    state: finished
    outputs:
      sum: 3
`), 0o644))

	resp, err := executeJSON(t, tempDB(t), "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)

	res := decodeData[TestResult](t, resp)
	require.Len(t, res.Scenarios, 1)
	assert.False(t, res.Scenarios[0].Pass)
	assert.NotEmpty(t, res.Scenarios[0].Errors)
}

func TestTestCommandErrors(t *testing.T) {
	_, err := execute(t, tempDB(t), "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, tempDB(t), "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestFindScenarioFilesSkipsGolden(t *testing.T) {
	dir := copyScenarios(t, "add_multiply", "nested_exit")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "stray.yaml"), []byte("name: x\n"), 0o644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = findScenarioFiles(dir, "nested_*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "nested_exit.yaml")}, files)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}
