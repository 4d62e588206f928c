package outline

import (
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// Handler supplies the behavior of named steps and conditions.
type Handler interface {
	// RunStep runs a step. A non-zero status ends the outline with it.
	RunStep(name string) (int, error)
	// Condition evaluates a condition.
	Condition(name string) (bool, error)
}

// Funcs is a Handler backed by maps of functions.
type Funcs struct {
	Steps      map[string]func() (int, error)
	Conditions map[string]func() (bool, error)
}

// RunStep implements Handler.
func (f Funcs) RunStep(name string) (int, error) {
	fn, ok := f.Steps[name]
	if !ok {
		return 0, ir.Errorf(ir.CodeValidation, "unknown step %q", name)
	}
	return fn()
}

// Condition implements Handler.
func (f Funcs) Condition(name string) (bool, error) {
	fn, ok := f.Conditions[name]
	if !ok {
		return false, ir.Errorf(ir.CodeValidation, "unknown condition %q", name)
	}
	return fn()
}

// maxIdle bounds control-flow evaluations in one Step call without running
// a step. A while loop whose body never reaches a step would otherwise spin.
const maxIdle = 10000

// Result describes one Step call.
type Result struct {
	// Step is the step that ran, or "" when the outline ended without one.
	Step string
	// Done reports that the outline has finished.
	Done bool
	// ExitStatus is the final status once Done.
	ExitStatus int
}

// Checkpoint is the serializable position of a Stepper.
type Checkpoint struct {
	// Cursor is [pc0, branch1, pc1, branch2, pc2, ...]: the index into the
	// root block, then for each entered block the branch taken (the if
	// branch index, len(branches) for else, 0 for a while body) and the
	// index inside it.
	Cursor     []int `json:"cursor"`
	Finished   bool  `json:"finished"`
	ExitStatus int   `json:"exit_status,omitempty"`
}

type frameKind int

const (
	frameRoot frameKind = iota
	frameIf
	frameWhile
)

type frame struct {
	block  Outline
	pc     int
	kind   frameKind
	branch int
}

// Stepper executes an outline one step at a time.
// A Stepper is not safe for concurrent use.
type Stepper struct {
	outline  Outline
	frames   []frame
	finished bool
	status   int
}

// NewStepper returns a stepper positioned before the first instruction.
func NewStepper(o Outline) *Stepper {
	return &Stepper{outline: o, frames: []frame{{block: o, kind: frameRoot}}}
}

// Finished reports whether the outline has ended.
func (s *Stepper) Finished() bool { return s.finished }

// ExitStatus returns the final status of a finished outline.
func (s *Stepper) ExitStatus() int { return s.status }

// Step advances to and runs the next plain step. Conditions are evaluated
// lazily on the way. A panic in the handler is returned as an error and the
// cursor stays on the failing instruction.
func (s *Stepper) Step(h Handler) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("outline: panic: %v", r)
		}
	}()

	for idle := 0; ; idle++ {
		if s.finished {
			return Result{Done: true, ExitStatus: s.status}, nil
		}
		if idle > maxIdle {
			return Result{}, fmt.Errorf("outline: no step reached after %d evaluations", maxIdle)
		}

		top := &s.frames[len(s.frames)-1]
		if top.pc >= len(top.block) {
			s.exitBlock()
			continue
		}

		switch inst := top.block[top.pc].(type) {
		case StepInst:
			status, err := h.RunStep(inst.Name)
			if err != nil {
				return Result{}, fmt.Errorf("step %s: %w", inst.Name, err)
			}
			top = &s.frames[len(s.frames)-1]
			top.pc++
			if status != 0 {
				s.finish(status)
			}
			return Result{Step: inst.Name, Done: s.finished, ExitStatus: s.status}, nil

		case *IfInst:
			branch := len(inst.Branches)
			for i, b := range inst.Branches {
				ok, err := h.Condition(b.Cond)
				if err != nil {
					return Result{}, fmt.Errorf("condition %s: %w", b.Cond, err)
				}
				if ok {
					branch = i
					break
				}
			}
			body := inst.ElseBody
			if branch < len(inst.Branches) {
				body = inst.Branches[branch].Body
			}
			s.frames = append(s.frames, frame{block: body, kind: frameIf, branch: branch})

		case *WhileInst:
			ok, err := h.Condition(inst.Cond)
			if err != nil {
				return Result{}, fmt.Errorf("condition %s: %w", inst.Cond, err)
			}
			if ok {
				s.frames = append(s.frames, frame{block: inst.Body, kind: frameWhile})
			} else {
				top.pc++
			}

		case ReturnInst:
			s.finish(inst.Status)
			return Result{Done: true, ExitStatus: s.status}, nil

		default:
			return Result{}, fmt.Errorf("outline: unknown instruction %T", inst)
		}
	}
}

// exitBlock leaves an exhausted block. An if body continues after the if;
// a while body returns to the loop head so the condition is re-evaluated.
func (s *Stepper) exitBlock() {
	done := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	if len(s.frames) == 0 {
		s.frames = []frame{{block: s.outline, pc: len(s.outline), kind: frameRoot}}
		s.finish(0)
		return
	}
	if done.kind == frameIf {
		s.frames[len(s.frames)-1].pc++
	}
}

func (s *Stepper) finish(status int) {
	s.finished = true
	s.status = status
}

// Save captures the current position.
func (s *Stepper) Save() Checkpoint {
	cp := Checkpoint{Finished: s.finished, ExitStatus: s.status}
	for i, f := range s.frames {
		if i > 0 {
			cp.Cursor = append(cp.Cursor, f.branch)
		}
		cp.Cursor = append(cp.Cursor, f.pc)
	}
	return cp
}

// Restore rebuilds a stepper for o at the checkpointed position.
// A cursor that does not fit the outline is rejected.
func Restore(o Outline, cp Checkpoint) (*Stepper, error) {
	s := &Stepper{outline: o, finished: cp.Finished, status: cp.ExitStatus}
	if cp.Finished {
		s.frames = []frame{{block: o, pc: len(o), kind: frameRoot}}
		return s, nil
	}
	c := cp.Cursor
	if len(c) == 0 {
		s.frames = []frame{{block: o, kind: frameRoot}}
		return s, nil
	}
	if len(c)%2 == 0 {
		return nil, invalidCursor(c, "length must be odd")
	}
	if c[0] < 0 || c[0] > len(o) {
		return nil, invalidCursor(c, "root index out of range")
	}
	s.frames = []frame{{block: o, pc: c[0], kind: frameRoot}}

	for i := 1; i < len(c); i += 2 {
		parent := s.frames[len(s.frames)-1]
		if parent.pc >= len(parent.block) {
			return nil, invalidCursor(c, "enters a block past the end of its parent")
		}
		branch, pc := c[i], c[i+1]
		var f frame
		switch inst := parent.block[parent.pc].(type) {
		case *IfInst:
			switch {
			case branch >= 0 && branch < len(inst.Branches):
				f = frame{block: inst.Branches[branch].Body, kind: frameIf, branch: branch}
			case branch == len(inst.Branches):
				f = frame{block: inst.ElseBody, kind: frameIf, branch: branch}
			default:
				return nil, invalidCursor(c, "if branch out of range")
			}
		case *WhileInst:
			if branch != 0 {
				return nil, invalidCursor(c, "while body branch must be 0")
			}
			f = frame{block: inst.Body, kind: frameWhile}
		default:
			return nil, invalidCursor(c, "enters a plain instruction")
		}
		if pc < 0 || pc > len(f.block) {
			return nil, invalidCursor(c, "index out of range")
		}
		f.pc = pc
		s.frames = append(s.frames, f)
	}
	return s, nil
}

func invalidCursor(c []int, msg string) error {
	return ir.Errorf(ir.CodeValidation, "invalid outline cursor %v: %s", c, msg)
}
