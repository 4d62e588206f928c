package workflows

import (
	"fmt"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
)

// Workchain names.
const (
	NestedWorkChain      = "NestedWorkChain"
	AddMultiplyWorkChain = "AddMultiplyWorkChain"
	SumWorkChain         = "SumWorkChain"
)

type binding struct {
	steps map[string]process.StepFunc
	conds map[string]process.CondFunc
}

// bindings maps each workchain declared in specs/ to its Go code.
var bindings = map[string]binding{
	NestedWorkChain: {
		steps: map[string]process.StepFunc{
			"validate":      nestedValidate,
			"submit_nested": nestedSubmit,
			"increment":     nestedIncrement,
			"finalize":      nestedFinalize,
		},
		conds: map[string]process.CondFunc{
			"should_nest": func(wc *process.WorkChain) (bool, error) {
				depth, err := wc.InputInt("inp")
				return depth > 0, err
			},
		},
	},
	AddMultiplyWorkChain: {
		steps: map[string]process.StepFunc{
			"add":      addMultiplyAdd,
			"multiply": addMultiplyMultiply,
			"results":  addMultiplyResults,
		},
	},
	SumWorkChain: {
		steps: map[string]process.StepFunc{
			"setup":    sumSetup,
			"add_term": sumAddTerm,
			"results":  sumResults,
		},
		conds: map[string]process.CondFunc{
			"not_done": func(wc *process.WorkChain) (bool, error) {
				n, err := wc.InputInt("n")
				if err != nil {
					return false, err
				}
				i, _ := wc.Ctx("i")
				return int64(i.(ir.IRInt)) < n, nil
			},
		},
	},
}

// finishedOK reports whether a process node finished with exit status 0.
func finishedOK(n *graph.Node) bool {
	state, _ := n.Attribute(ir.AttrProcessState)
	status, _ := n.Attribute(ir.AttrExitStatus)
	return state == ir.IRString(ir.StateFinished) && status == ir.IRInt(0)
}

// childOutput returns output label of the child awaited under key, which
// must have finished ok.
func childOutput(wc *process.WorkChain, key, label string) (*graph.Node, error) {
	child, err := wc.Child(key)
	if err != nil {
		return nil, err
	}
	if !finishedOK(child) {
		return nil, fmt.Errorf("child %s (%s) did not finish ok", key, child.UUID())
	}
	outs, err := wc.ChildOutputs(key)
	if err != nil {
		return nil, err
	}
	out, ok := outs[label]
	if !ok {
		return nil, fmt.Errorf("child %s has no output %q", key, label)
	}
	return out, nil
}

func nestedValidate(wc *process.WorkChain) error {
	depth, err := wc.InputInt("inp")
	if err != nil {
		return err
	}
	if depth < 0 {
		return wc.Exit("ERROR_NEGATIVE_DEPTH")
	}
	return nil
}

func nestedSubmit(wc *process.WorkChain) error {
	depth, err := wc.InputInt("inp")
	if err != nil {
		return err
	}
	inp, err := wc.NewData(ir.IRInt(depth - 1))
	if err != nil {
		return err
	}
	h, err := wc.Submit(NestedWorkChain, process.Inputs{"inp": inp})
	if err != nil {
		return err
	}
	wc.Report("submitted nested workchain", "child_uuid", h.UUID, "depth", depth-1)
	wc.Await(process.ToContext("nested", h))
	return nil
}

func nestedIncrement(wc *process.WorkChain) error {
	out, err := childOutput(wc, "nested", "output")
	if err != nil {
		return err
	}
	one, err := wc.NewData(ir.IRInt(1))
	if err != nil {
		return err
	}
	h, err := wc.Submit(Add, process.Inputs{"x": out, "y": one})
	if err != nil {
		return err
	}
	wc.Await(process.ToContext("increment", h))
	return nil
}

func nestedFinalize(wc *process.WorkChain) error {
	if _, ok := wc.Ctx("increment"); !ok {
		return wc.Out("output", wc.Input("inp"))
	}
	sum, err := childOutput(wc, "increment", "sum")
	if err != nil {
		return err
	}
	return wc.Out("output", sum)
}

func addMultiplyAdd(wc *process.WorkChain) error {
	h, err := wc.Submit(Add, process.Inputs{"x": wc.Input("x"), "y": wc.Input("y")})
	if err != nil {
		return err
	}
	wc.Await(process.ToContext("addition", h))
	return nil
}

func addMultiplyMultiply(wc *process.WorkChain) error {
	sum, err := childOutput(wc, "addition", "sum")
	if err != nil {
		wc.Report("addition failed", "error", err)
		return wc.Exit("ERROR_SUB_PROCESS_FAILED")
	}
	h, err := wc.Submit(Multiply, process.Inputs{"x": sum, "y": wc.Input("z")})
	if err != nil {
		return err
	}
	wc.Await(process.ToContext("multiplication", h))
	return nil
}

func addMultiplyResults(wc *process.WorkChain) error {
	result, err := childOutput(wc, "multiplication", "result")
	if err != nil {
		wc.Report("multiplication failed", "error", err)
		return wc.Exit("ERROR_SUB_PROCESS_FAILED")
	}
	return wc.Out("result", result)
}

func sumSetup(wc *process.WorkChain) error {
	wc.SetCtx("i", ir.IRInt(0))
	zero, err := wc.NewData(ir.IRInt(0))
	if err != nil {
		return err
	}
	// The running total starts from a zero term so every iteration is an add.
	h, err := wc.Submit(Add, process.Inputs{"x": zero, "y": zero})
	if err != nil {
		return err
	}
	wc.Await(process.Append("terms", h))
	return nil
}

func sumAddTerm(wc *process.WorkChain) error {
	terms, err := wc.Children("terms")
	if err != nil {
		return err
	}
	last := terms[len(terms)-1]
	if !finishedOK(last) {
		return fmt.Errorf("term %s did not finish ok", last.UUID())
	}
	outs, err := wc.OutputsOf(last)
	if err != nil {
		return err
	}
	h, err := wc.Submit(Add, process.Inputs{"x": outs["sum"], "y": wc.Input("step")})
	if err != nil {
		return err
	}
	i, _ := wc.Ctx("i")
	wc.SetCtx("i", i.(ir.IRInt)+1)
	wc.Await(process.Append("terms", h))
	return nil
}

func sumResults(wc *process.WorkChain) error {
	terms, err := wc.Children("terms")
	if err != nil {
		return err
	}
	last := terms[len(terms)-1]
	outs, err := wc.OutputsOf(last)
	if err != nil {
		return err
	}
	return wc.Out("total", outs["sum"])
}
