// Package outline defines workchain control flow and the resumable Stepper
// that executes it.
//
// An outline is a tree of instructions: plain steps, if/elif/else blocks,
// while loops and early returns. Steps and conditions are referenced by
// name; a Handler supplies their behavior. The stepper position is a cursor
// of indices into the tree, so a checkpoint is plain data that survives a
// restart.
package outline

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/lineage/internal/ir"
)

// Instruction is one element of an outline.
// Sealed: only the types in this package implement it.
type Instruction interface {
	instruction()
}

// StepInst runs the named step.
type StepInst struct {
	Name string
}

func (StepInst) instruction() {}

// Branch is a guarded block of an if instruction.
type Branch struct {
	Cond string
	Body Outline
}

// IfInst runs the body of the first branch whose condition holds,
// or ElseBody when none does.
type IfInst struct {
	Branches []Branch
	ElseBody Outline
}

func (*IfInst) instruction() {}

// WhileInst runs Body while Cond holds.
type WhileInst struct {
	Cond string
	Body Outline
}

func (*WhileInst) instruction() {}

// ReturnInst ends the outline with Status.
type ReturnInst struct {
	Status int
}

func (ReturnInst) instruction() {}

// Outline is an ordered block of instructions.
type Outline []Instruction

// Step returns a plain step instruction.
func Step(name string) Instruction {
	return StepInst{Name: name}
}

// If starts an if block.
func If(cond string, body ...Instruction) *IfInst {
	return &IfInst{Branches: []Branch{{Cond: cond, Body: body}}}
}

// ElseIf adds an elif branch.
func (i *IfInst) ElseIf(cond string, body ...Instruction) *IfInst {
	i.Branches = append(i.Branches, Branch{Cond: cond, Body: body})
	return i
}

// Else sets the else block.
func (i *IfInst) Else(body ...Instruction) *IfInst {
	i.ElseBody = body
	return i
}

// While returns a loop instruction.
func While(cond string, body ...Instruction) *WhileInst {
	return &WhileInst{Cond: cond, Body: body}
}

// Return ends the outline early with an exit status. Zero means success.
func Return(status int) Instruction {
	return ReturnInst{Status: status}
}

// New builds an outline from instructions.
func New(items ...Instruction) Outline {
	return Outline(items)
}

// FromSpec converts a compiled outline into instructions.
func FromSpec(items []ir.OutlineItem) (Outline, error) {
	out := make(Outline, 0, len(items))
	for i, it := range items {
		inst, err := fromItem(it)
		if err != nil {
			return nil, fmt.Errorf("outline[%d]: %w", i, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func fromItem(it ir.OutlineItem) (Instruction, error) {
	switch it.Kind {
	case ir.OutlineStep:
		if it.Name == "" {
			return nil, ir.Errorf(ir.CodeValidation, "step requires a name")
		}
		return StepInst{Name: it.Name}, nil
	case ir.OutlineIf:
		if len(it.Branches) == 0 {
			return nil, ir.Errorf(ir.CodeValidation, "if requires a condition")
		}
		inst := &IfInst{}
		for _, b := range it.Branches {
			body, err := FromSpec(b.Body)
			if err != nil {
				return nil, err
			}
			inst.Branches = append(inst.Branches, Branch{Cond: b.Cond, Body: body})
		}
		elseBody, err := FromSpec(it.Else)
		if err != nil {
			return nil, err
		}
		inst.ElseBody = elseBody
		return inst, nil
	case ir.OutlineWhile:
		body, err := FromSpec(it.Body)
		if err != nil {
			return nil, err
		}
		return &WhileInst{Cond: it.Cond, Body: body}, nil
	case ir.OutlineReturn:
		return ReturnInst{Status: it.Status}, nil
	}
	return nil, ir.Errorf(ir.CodeValidation, "unknown outline kind %q", it.Kind)
}

// Spec converts the outline back to its compiled form.
func (o Outline) Spec() []ir.OutlineItem {
	out := make([]ir.OutlineItem, 0, len(o))
	for _, inst := range o {
		switch v := inst.(type) {
		case StepInst:
			out = append(out, ir.OutlineItem{Kind: ir.OutlineStep, Name: v.Name})
		case *IfInst:
			item := ir.OutlineItem{Kind: ir.OutlineIf, Else: v.ElseBody.Spec()}
			for _, b := range v.Branches {
				item.Branches = append(item.Branches, ir.OutlineBranch{Cond: b.Cond, Body: b.Body.Spec()})
			}
			if len(item.Else) == 0 {
				item.Else = nil
			}
			out = append(out, item)
		case *WhileInst:
			out = append(out, ir.OutlineItem{Kind: ir.OutlineWhile, Cond: v.Cond, Body: v.Body.Spec()})
		case ReturnInst:
			out = append(out, ir.OutlineItem{Kind: ir.OutlineReturn, Status: v.Status})
		}
	}
	return out
}

// walk visits every instruction depth first.
func (o Outline) walk(fn func(Instruction)) {
	for _, inst := range o {
		fn(inst)
		switch v := inst.(type) {
		case *IfInst:
			for _, b := range v.Branches {
				b.Body.walk(fn)
			}
			v.ElseBody.walk(fn)
		case *WhileInst:
			v.Body.walk(fn)
		}
	}
}

// StepNames returns the distinct step names in sorted order.
func (o Outline) StepNames() []string {
	names := mapset.NewThreadUnsafeSet[string]()
	o.walk(func(inst Instruction) {
		if s, ok := inst.(StepInst); ok {
			names.Add(s.Name)
		}
	})
	return sorted(names)
}

// ConditionNames returns the distinct condition names in sorted order.
func (o Outline) ConditionNames() []string {
	names := mapset.NewThreadUnsafeSet[string]()
	o.walk(func(inst Instruction) {
		switch v := inst.(type) {
		case *IfInst:
			for _, b := range v.Branches {
				names.Add(b.Cond)
			}
		case *WhileInst:
			names.Add(v.Cond)
		}
	})
	return sorted(names)
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}

// Validate checks that the outline is non-empty and that every step and
// condition it references is among the given names.
func (o Outline) Validate(steps, conditions []string) error {
	if len(o) == 0 {
		return ir.Errorf(ir.CodeValidation, "outline must not be empty")
	}
	known := mapset.NewThreadUnsafeSet(steps...)
	for _, name := range o.StepNames() {
		if !known.Contains(name) {
			return ir.Errorf(ir.CodeValidation, "outline references unknown step %q", name)
		}
	}
	knownConds := mapset.NewThreadUnsafeSet(conditions...)
	for _, name := range o.ConditionNames() {
		if !knownConds.Contains(name) {
			return ir.Errorf(ir.CodeValidation, "outline references unknown condition %q", name)
		}
	}
	var err error
	o.walk(func(inst Instruction) {
		if w, ok := inst.(*WhileInst); ok && len(w.Body) == 0 && err == nil {
			err = ir.Errorf(ir.CodeValidation, "while %q has an empty body", w.Cond)
		}
	})
	return err
}
