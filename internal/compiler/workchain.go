package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/lineage/internal/ir"
)

// CompileWorkChain parses a CUE value into a WorkChainSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the workchain struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`workchain: Add: { ... }`)
//	spec, err := CompileWorkChain(v.LookupPath(cue.ParsePath("workchain.Add")))
//
// Outline items are structs with exactly one of the keys step, "if",
// while or return:
//
//	{step: "setup"}
//	{"if": "is_even", then: [...], elif: [{"if": "is_odd", then: [...]}], else: [...]}
//	{while: "not_done", do: [...]}
//	{return: 300}
func CompileWorkChain(v cue.Value) (*ir.WorkChainSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.WorkChainSpec{}

	// Name comes from the struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].Unquoted()
	}

	var err error
	if spec.Inputs, err = parsePorts(v, "inputs"); err != nil {
		return nil, err
	}
	if spec.Outputs, err = parsePorts(v, "outputs"); err != nil {
		return nil, err
	}
	if spec.ExitCodes, err = parseExitCodes(v); err != nil {
		return nil, err
	}

	outlineVal := field(v, "outline")
	if !outlineVal.Exists() {
		return nil, &CompileError{
			Field:   "outline",
			Message: "outline is required",
			Pos:     v.Pos(),
		}
	}
	if spec.Outline, err = parseOutline(outlineVal, "outline"); err != nil {
		return nil, err
	}
	if len(spec.Outline) == 0 {
		return nil, &CompileError{
			Field:   "outline",
			Message: "outline must not be empty",
			Pos:     outlineVal.Pos(),
		}
	}

	return spec, nil
}

// field looks up a single, possibly keyword, label.
func field(v cue.Value, name string) cue.Value {
	return v.LookupPath(cue.MakePath(cue.Str(name)))
}

// parsePorts extracts port declarations in source order.
func parsePorts(v cue.Value, key string) ([]ir.PortSpec, error) {
	portsVal := field(v, key)
	if !portsVal.Exists() {
		return nil, nil // ports are optional
	}

	iter, err := portsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var ports []ir.PortSpec
	for iter.Next() {
		p := ir.PortSpec{Name: iter.Selector().Unquoted()}
		pv := iter.Value()
		path := fmt.Sprintf("%s.%s", key, p.Name)

		if tv := field(pv, "type"); tv.Exists() {
			if p.Type, err = tv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if rv := field(pv, "required"); rv.Exists() {
			if p.Required, err = rv.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if hv := field(pv, "help"); hv.Exists() {
			if p.Help, err = hv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if dv := field(pv, "default"); dv.Exists() {
			if p.Required {
				return nil, &CompileError{
					Field:   path + ".default",
					Message: "required ports cannot have a default",
					Pos:     dv.Pos(),
				}
			}
			if p.Default, err = irValue(dv); err != nil {
				return nil, err
			}
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// parseExitCodes extracts exit codes keyed by label.
func parseExitCodes(v cue.Value) ([]ir.ExitCodeSpec, error) {
	codesVal := field(v, "exit_codes")
	if !codesVal.Exists() {
		return nil, nil
	}

	iter, err := codesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var codes []ir.ExitCodeSpec
	for iter.Next() {
		ec := ir.ExitCodeSpec{Label: iter.Selector().Unquoted()}
		cv := iter.Value()

		sv := field(cv, "status")
		if !sv.Exists() {
			return nil, &CompileError{
				Field:   "exit_codes." + ec.Label + ".status",
				Message: "exit code status is required",
				Pos:     cv.Pos(),
			}
		}
		status, err := sv.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ec.Status = int(status)

		if mv := field(cv, "message"); mv.Exists() {
			if ec.Message, err = mv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		codes = append(codes, ec)
	}
	return codes, nil
}

// outlineKeys are the keys that select an outline item kind.
var outlineKeys = []struct {
	key  string
	kind ir.OutlineKind
}{
	{"step", ir.OutlineStep},
	{"if", ir.OutlineIf},
	{"while", ir.OutlineWhile},
	{"return", ir.OutlineReturn},
}

// parseOutline parses a list of outline items.
func parseOutline(v cue.Value, path string) ([]ir.OutlineItem, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   path,
			Message: "outline must be a list",
			Pos:     v.Pos(),
		}
	}

	var items []ir.OutlineItem
	for i := 0; iter.Next(); i++ {
		item, err := parseOutlineItem(iter.Value(), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func parseOutlineItem(v cue.Value, path string) (ir.OutlineItem, error) {
	var item ir.OutlineItem

	found := 0
	for _, k := range outlineKeys {
		if field(v, k.key).Exists() {
			item.Kind = k.kind
			found++
		}
	}
	if found != 1 {
		return item, &CompileError{
			Field:   path,
			Message: `outline item needs exactly one of step, "if", while, return`,
			Pos:     v.Pos(),
		}
	}

	var err error
	switch item.Kind {
	case ir.OutlineStep:
		if item.Name, err = field(v, "step").String(); err != nil {
			return item, formatCUEError(err)
		}

	case ir.OutlineIf:
		branch, err := parseBranch(v, path)
		if err != nil {
			return item, err
		}
		item.Branches = append(item.Branches, branch)

		if ev := field(v, "elif"); ev.Exists() {
			iter, err := ev.List()
			if err != nil {
				return item, formatCUEError(err)
			}
			for i := 0; iter.Next(); i++ {
				b, err := parseBranch(iter.Value(), fmt.Sprintf("%s.elif[%d]", path, i))
				if err != nil {
					return item, err
				}
				item.Branches = append(item.Branches, b)
			}
		}
		if ev := field(v, "else"); ev.Exists() {
			if item.Else, err = parseOutline(ev, path+".else"); err != nil {
				return item, err
			}
		}

	case ir.OutlineWhile:
		if item.Cond, err = field(v, "while").String(); err != nil {
			return item, formatCUEError(err)
		}
		dv := field(v, "do")
		if !dv.Exists() {
			return item, &CompileError{Field: path + ".do", Message: "while requires a do block", Pos: v.Pos()}
		}
		if item.Body, err = parseOutline(dv, path+".do"); err != nil {
			return item, err
		}
		if len(item.Body) == 0 {
			return item, &CompileError{Field: path + ".do", Message: "while body must not be empty", Pos: dv.Pos()}
		}

	case ir.OutlineReturn:
		status, err := field(v, "return").Int64()
		if err != nil {
			return item, formatCUEError(err)
		}
		item.Status = int(status)
	}
	return item, nil
}

// parseBranch parses a {"if": cond, then: [...]} pair.
func parseBranch(v cue.Value, path string) (ir.OutlineBranch, error) {
	var b ir.OutlineBranch
	cond, err := field(v, "if").String()
	if err != nil {
		return b, formatCUEError(err)
	}
	b.Cond = cond

	tv := field(v, "then")
	if !tv.Exists() {
		return b, &CompileError{Field: path + ".then", Message: "if requires a then block", Pos: v.Pos()}
	}
	if b.Body, err = parseOutline(tv, path+".then"); err != nil {
		return b, err
	}
	return b, nil
}

// irValue converts a concrete CUE value to an IRValue.
func irValue(v cue.Value) (ir.IRValue, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return ir.UnmarshalIRValue(data)
}
