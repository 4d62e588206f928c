package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
)

func validSpec() *ir.WorkChainSpec {
	return &ir.WorkChainSpec{
		Name:      "AddMultiply",
		Inputs:    []ir.PortSpec{{Name: "x", Type: "data.core.int", Required: true}},
		Outputs:   []ir.PortSpec{{Name: "result", Type: "data.core.int"}},
		ExitCodes: []ir.ExitCodeSpec{{Label: "ERROR_SUB", Status: 400}},
		Outline:   []ir.OutlineItem{{Kind: ir.OutlineStep, Name: "add"}},
	}
}

func codes(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidateValid(t *testing.T) {
	assert.Empty(t, Validate(validSpec(), ir.NewRegistry()))
}

func TestValidateCodes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *ir.WorkChainSpec)
		want   string
	}{
		{"missing name", func(s *ir.WorkChainSpec) { s.Name = "" }, ErrWorkChainName},
		{"empty outline", func(s *ir.WorkChainSpec) { s.Outline = nil }, ErrOutline},
		{"zero exit status", func(s *ir.WorkChainSpec) { s.ExitCodes[0].Status = 0 }, ErrExitCode},
		{"duplicate port", func(s *ir.WorkChainSpec) { s.Inputs = append(s.Inputs, s.Inputs[0]) }, ErrPort},
		{"unknown type", func(s *ir.WorkChainSpec) { s.Inputs[0].Type = "data.core.nope" }, ErrPortType},
		{"process type", func(s *ir.WorkChainSpec) { s.Outputs[0].Type = "process.workflow.workchain" }, ErrPortType},
		{"default mismatch", func(s *ir.WorkChainSpec) {
			s.Inputs = append(s.Inputs, ir.PortSpec{Name: "y", Type: "data.core.int", Default: ir.IRString("1")})
		}, ErrPortDefaultType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.mutate(s)
			assert.Contains(t, codes(Validate(s, ir.NewRegistry())), tt.want)
		})
	}
}

func TestValidateBindings(t *testing.T) {
	spec := validSpec()
	spec.Outline = []ir.OutlineItem{
		{Kind: ir.OutlineWhile, Cond: "more", Body: []ir.OutlineItem{{Kind: ir.OutlineStep, Name: "add"}}},
		{Kind: ir.OutlineStep, Name: "finish"},
	}
	errs := ValidateBindings(spec, []string{"add"}, nil)
	assert.ElementsMatch(t, []string{ErrUnboundStep, ErrUnboundCond}, codes(errs))
	assert.Empty(t, ValidateBindings(spec, []string{"add", "finish"}, []string{"more"}))
}

func TestBind(t *testing.T) {
	spec := validSpec()
	noop := func(*process.WorkChain) error { return nil }

	def, err := Bind(spec, map[string]process.StepFunc{"add": noop}, nil)
	require.NoError(t, err)
	assert.Equal(t, "AddMultiply", def.Name())
	assert.Equal(t, 400, def.Ports().MustExitCode("ERROR_SUB").Status)
	assert.Len(t, def.Outline, 1)

	_, err = Bind(spec, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "add" is not bound`)
}
