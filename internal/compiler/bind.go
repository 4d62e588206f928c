package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/outline"
	"github.com/roach88/lineage/internal/process"
)

// Bind turns a compiled spec into a runnable workchain definition using
// Go step and condition functions.
func Bind(spec *ir.WorkChainSpec, steps map[string]process.StepFunc, conds map[string]process.CondFunc) (*process.WorkChainDef, error) {
	var errs []error
	for _, e := range Validate(spec, nil) {
		errs = append(errs, e)
	}
	for _, e := range ValidateBindings(spec, keys(steps), keys(conds)) {
		errs = append(errs, e)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("bind %s: %w", spec.Name, errors.Join(errs...))
	}

	o, err := outline.FromSpec(spec.Outline)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
	}
	def := &process.WorkChainDef{
		Label:      spec.Name,
		Spec:       process.SpecFromIR(spec),
		Outline:    o,
		Steps:      steps,
		Conditions: conds,
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
	}
	return def, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
