package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() WorkChainSpec {
	return WorkChainSpec{
		Name:    "AddMultiply",
		Inputs:  []PortSpec{{Name: "x", Type: "data.core.int", Required: true}, {Name: "y"}},
		Outputs: []PortSpec{{Name: "result", Required: true}},
		ExitCodes: []ExitCodeSpec{
			{Label: "ERROR_NEGATIVE", Status: 300, Message: "negative"},
		},
		Outline: []OutlineItem{
			{Kind: OutlineStep, Name: "add"},
			{
				Kind:     OutlineIf,
				Branches: []OutlineBranch{{Cond: "is_small", Body: []OutlineItem{{Kind: OutlineStep, Name: "double"}}}},
				Else:     []OutlineItem{{Kind: OutlineReturn, Status: 300}},
			},
			{Kind: OutlineWhile, Cond: "not_done", Body: []OutlineItem{{Kind: OutlineStep, Name: "iterate"}}},
		},
	}
}

func TestWorkChainSpecValidateOK(t *testing.T) {
	spec := validSpec()
	assert.Empty(t, spec.Validate())
}

func TestWorkChainSpecValidateCollectsAll(t *testing.T) {
	spec := validSpec()
	spec.Name = ""
	spec.Inputs = append(spec.Inputs, PortSpec{Name: "x"}, PortSpec{Name: "bad-name"})
	spec.ExitCodes = append(spec.ExitCodes, ExitCodeSpec{Label: "ERROR_OTHER", Status: 300}, ExitCodeSpec{Label: "ZERO", Status: 0})
	spec.Outline = append(spec.Outline, OutlineItem{Kind: "goto"}, OutlineItem{Kind: OutlineStep})

	errs := spec.Validate()
	require.Len(t, errs, 7)

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "inputs[2].name")
	assert.Contains(t, fields, "inputs[3].name")
	assert.Contains(t, fields, "exit_codes[1].status")
	assert.Contains(t, fields, "exit_codes[2].status")
	assert.Contains(t, fields, "outline[3]")
	assert.Contains(t, fields, "outline[4]")
}

func TestWorkChainSpecValidateEmptyOutline(t *testing.T) {
	spec := validSpec()
	spec.Outline = nil
	errs := spec.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "outline", errs[0].Field)
}

func TestWorkChainSpecNames(t *testing.T) {
	spec := validSpec()
	assert.Equal(t, []string{"add", "double", "iterate"}, spec.StepNames())
	assert.Equal(t, []string{"is_small", "not_done"}, spec.ConditionNames())
}
