// Package workflows is the built-in process library: arithmetic
// calcfunctions, calcjobs that run on a computer, and workchains whose
// ports and outlines are declared in CUE under specs/.
package workflows

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/roach88/lineage/internal/compiler"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
)

//go:embed specs/*.cue
var specFS embed.FS

// Specs compiles the embedded workchain declarations.
func Specs() ([]*ir.WorkChainSpec, error) {
	names, err := fs.Glob(specFS, "specs/*.cue")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var out []*ir.WorkChainSpec
	for _, name := range names {
		src, err := specFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		res, errs := compiler.CompileSource(name, src)
		if len(errs) > 0 {
			return nil, fmt.Errorf("compile %s: %w", name, errs[0])
		}
		out = append(out, res.WorkChains...)
	}
	return out, nil
}

// WorkChains binds every embedded workchain spec to its step functions.
func WorkChains() ([]*process.WorkChainDef, error) {
	specs, err := Specs()
	if err != nil {
		return nil, err
	}
	out := make([]*process.WorkChainDef, 0, len(specs))
	for _, spec := range specs {
		b, ok := bindings[spec.Name]
		if !ok {
			return nil, fmt.Errorf("workchain %s has no Go binding", spec.Name)
		}
		def, err := compiler.Bind(spec, b.steps, b.conds)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Registry returns a registry holding the whole library. Calcjobs are
// registered only when computer names the computer they run on.
func Registry(computer string) (*process.Registry, error) {
	reg := process.NewRegistry()
	defs := []process.Definition{AddDef, MultiplyDef}
	if computer != "" {
		defs = append(defs, ArithmeticAddDef(computer), ShellDef(computer))
	}
	wcs, err := WorkChains()
	if err != nil {
		return nil, err
	}
	for _, wc := range wcs {
		defs = append(defs, wc)
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BoundNames returns the step and condition names bound for the library
// workchain name, sorted. ok is false for workchains the library lacks.
func BoundNames(name string) (steps, conds []string, ok bool) {
	b, ok := bindings[name]
	if !ok {
		return nil, nil, false
	}
	for s := range b.steps {
		steps = append(steps, s)
	}
	for c := range b.conds {
		conds = append(conds, c)
	}
	sort.Strings(steps)
	sort.Strings(conds)
	return steps, conds, true
}
