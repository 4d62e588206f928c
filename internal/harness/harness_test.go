package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return s
}

func TestRun_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			require.NotNil(t, result.Snapshot)
			assert.Equal(t, scenario.Name, result.Snapshot.ScenarioName)
		})
	}
}

func TestRun_DeleteReportsSortedRefs(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/delete_closure.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, []string{"calc", "sum", "x"}, result.Deleted)
	assert.Equal(t, result.Deleted, result.Snapshot.Deleted)

	refs := make([]string, 0, len(result.Snapshot.Nodes))
	for _, n := range result.Snapshot.Nodes {
		refs = append(refs, n.Ref)
	}
	assert.Equal(t, []string{"y", "other"}, refs)
}

func TestRun_LoopedGraphKeepsReturnedInput(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/delete_looped_graph.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"add", "sum", "wf"}, result.Deleted)

	refs := make([]string, 0, len(result.Snapshot.Nodes))
	for _, n := range result.Snapshot.Nodes {
		refs = append(refs, n.Ref)
		assert.Empty(t, n.Links, "%s keeps links to deleted nodes", n.Ref)
	}
	assert.Equal(t, []string{"x", "y", "other"}, refs)
}

func TestRun_DryRunDeletesNothing(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/delete_dry_run.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"calc", "x"}, result.Deleted)
	assert.Len(t, result.Snapshot.Nodes, 3)
}

func TestRun_RunOutputsAreNamed(t *testing.T) {
	scenario := mustParse(t, `
name: named_outputs
description: "Outputs of a run are registered under the run id"
runs:
  - id: a
    process: add
    inputs: {x: 1, y: 2}
assertions:
  - type: process
    ref: a
    outputs: {sum: 3}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var refs []string
	for _, n := range result.Snapshot.Nodes {
		refs = append(refs, n.Ref)
	}
	assert.Contains(t, refs, "a")
	assert.Contains(t, refs, "a.sum")

	unnamed := 0
	for _, r := range refs {
		if strings.HasPrefix(r, "#") {
			unnamed++
		}
	}
	assert.Equal(t, 2, unnamed, "literal inputs are named by pk")
}

func TestRun_FixtureLinksAndSeal(t *testing.T) {
	scenario := mustParse(t, `
name: fixture_links
description: "Fixtures may call, return and seal"
nodes:
  - id: wf
    subtype: process.workflow.workchain
    attributes: {process_state: finished}
    sealed: true
  - id: x
    subtype: data.core.int
    value: 1
  - id: calc
    subtype: process.calculation.calcfunction
    inputs: {x: x}
    caller: wf
  - id: out
    subtype: data.core.int
    value: 2
    created_by: {process: calc, label: result}
  - id: wf2
    subtype: process.workflow.workchain
    returns: {result: out}
assertions:
  - type: link
    from: wf
    to: calc
    link_type: call_calc
    label: CALL
  - type: link
    from: wf2
    to: out
    link_type: return
    label: result
  - type: process
    ref: wf2
    outputs: {result: 2}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	for _, n := range result.Snapshot.Nodes {
		if n.Ref == "wf" {
			sealed, ok := n.Attributes["sealed"]
			require.True(t, ok)
			assert.EqualValues(t, true, sealed)
		}
	}
}

func TestRun_FailedAssertionsAreCollected(t *testing.T) {
	scenario := mustParse(t, `
name: failing
description: "Every failing assertion is reported"
runs:
  - id: a
    process: add
    inputs: {x: 1, y: 2}
assertions:
  - type: process
    ref: a
    state: excepted
  - type: process
    ref: a
    outputs: {sum: 4}
  - type: exists
    refs: [nope]
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "state mismatch")
	assert.Contains(t, result.Errors[1], "output sum")
	assert.Contains(t, result.Errors[2], `unknown ref "nope"`)
}

func TestRun_BuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "abstract subtype",
			content: `
name: bad
description: d
nodes:
  - id: p
    subtype: process.calculation
assertions: [{type: exists, refs: [p]}]
`,
			wantErr: "build nodes",
		},
		{
			name: "inputs on data",
			content: `
name: bad
description: d
nodes:
  - id: x
    subtype: data.core.int
  - id: y
    subtype: data.core.int
    inputs: {x: x}
assertions: [{type: exists, refs: [y]}]
`,
			wantErr: "take no inputs",
		},
		{
			name: "unknown process",
			content: `
name: bad
description: d
runs:
  - id: r
    process: nope
assertions: [{type: exists, refs: [r]}]
`,
			wantErr: "run r",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(mustParse(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewResult(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	assert.Empty(t, r.Errors)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
