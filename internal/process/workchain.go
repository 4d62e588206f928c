package process

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/outline"
)

// Runtime is the runner surface process code calls back into.
type Runtime interface {
	NodeFactory
	// Submit creates a child process called by parent and schedules it.
	Submit(ctx context.Context, parent *graph.Node, name string, inputs Inputs) (Handle, error)
	// LoadProcess loads a process node by uuid.
	LoadProcess(ctx context.Context, uuid string) (*graph.Node, error)
	// Outputs loads the outputs registered by a process.
	Outputs(ctx context.Context, uuid string) (map[string]*graph.Node, error)
}

// State is the mutable state of a workchain instance between steps.
type State struct {
	Vars    ir.IRObject
	Outputs map[string]*graph.Node
	// Pending collects awaitables registered by the current step.
	Pending []Awaitable
}

// NewState creates empty workchain state.
func NewState() *State {
	return &State{Vars: ir.IRObject{}, Outputs: make(map[string]*graph.Node)}
}

// WorkChain is what a step sees of its running workchain.
type WorkChain struct {
	ctx    context.Context
	rt     Runtime
	node   *graph.Node
	def    *WorkChainDef
	inputs Inputs
	state  *State
	logger *slog.Logger
}

// NewWorkChain binds a step view to an instance.
func NewWorkChain(ctx context.Context, rt Runtime, node *graph.Node, def *WorkChainDef, inputs Inputs, state *State) *WorkChain {
	return &WorkChain{
		ctx:    ctx,
		rt:     rt,
		node:   node,
		def:    def,
		inputs: inputs,
		state:  state,
		logger: slog.With("process_uuid", node.UUID(), "process_label", def.Label),
	}
}

// Context returns the context of the current step.
func (wc *WorkChain) Context() context.Context { return wc.ctx }

// Node returns the workchain's process node.
func (wc *WorkChain) Node() *graph.Node { return wc.node }

// Inputs returns the validated inputs.
func (wc *WorkChain) Inputs() Inputs { return wc.inputs }

// Input returns one input, or nil.
func (wc *WorkChain) Input(name string) *graph.Node { return wc.inputs[name] }

// InputInt returns the payload of an integer input.
func (wc *WorkChain) InputInt(name string) (int64, error) {
	n := wc.inputs[name]
	if n == nil {
		return 0, fmt.Errorf("input %q not set", name)
	}
	return Int(n)
}

// Ctx reads a context variable.
func (wc *WorkChain) Ctx(key string) (ir.IRValue, bool) {
	v, ok := wc.state.Vars[key]
	return v, ok
}

// SetCtx writes a context variable. Values are checkpointed.
func (wc *WorkChain) SetCtx(key string, v ir.IRValue) {
	wc.state.Vars[key] = v
}

// Submit creates and schedules a child process. Wait for it with Await.
func (wc *WorkChain) Submit(name string, inputs Inputs) (Handle, error) {
	return wc.rt.Submit(wc.ctx, wc.node, name, inputs)
}

// Await registers awaitables. The workchain resumes once all of them have
// resolved.
func (wc *WorkChain) Await(as ...Awaitable) {
	for _, a := range as {
		wc.logger.Debug("awaitable registered", "key", a.Key, "child_uuid", a.Child, "mode", a.Mode)
	}
	wc.state.Pending = append(wc.state.Pending, as...)
}

// Child loads the child recorded under key by ToContext.
func (wc *WorkChain) Child(key string) (*graph.Node, error) {
	v, ok := wc.state.Vars[key]
	if !ok {
		return nil, ir.NotExistent("context key", key)
	}
	id, ok := v.(ir.IRString)
	if !ok {
		return nil, ir.Errorf(ir.CodeValidation, "context key %q holds %T, not a child", key, v)
	}
	return wc.rt.LoadProcess(wc.ctx, string(id))
}

// Children loads the children appended under key, in completion order.
func (wc *WorkChain) Children(key string) ([]*graph.Node, error) {
	v, ok := wc.state.Vars[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.(ir.IRArray)
	if !ok {
		return nil, ir.Errorf(ir.CodeValidation, "context key %q holds %T, not a child list", key, v)
	}
	out := make([]*graph.Node, 0, len(list))
	for _, item := range list {
		id, ok := item.(ir.IRString)
		if !ok {
			return nil, ir.Errorf(ir.CodeValidation, "context key %q holds a non-child entry", key)
		}
		n, err := wc.rt.LoadProcess(wc.ctx, string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ChildOutputs loads the outputs of the child recorded under key.
func (wc *WorkChain) ChildOutputs(key string) (map[string]*graph.Node, error) {
	child, err := wc.Child(key)
	if err != nil {
		return nil, err
	}
	return wc.rt.Outputs(wc.ctx, child.UUID())
}

// OutputsOf loads the outputs of any process node.
func (wc *WorkChain) OutputsOf(n *graph.Node) (map[string]*graph.Node, error) {
	return wc.rt.Outputs(wc.ctx, n.UUID())
}

// Out registers a stored data node as an output.
func (wc *WorkChain) Out(name string, n *graph.Node) error {
	if n == nil || !n.IsStored() {
		return ir.Errorf(ir.CodeValidation, "workchain output %q must be a stored data node", name)
	}
	if n.Type() != ir.NodeData {
		return ir.Errorf(ir.CodeValidation, "workchain output %q must be a data node", name)
	}
	if err := wc.def.Ports().CheckOutput(name, n); err != nil {
		return err
	}
	if _, ok := wc.state.Outputs[name]; ok {
		return ir.Errorf(ir.CodeValidation, "output %q already registered", name)
	}
	wc.state.Outputs[name] = n
	return nil
}

// NewData creates an unstored data node holding v, for use as a child
// input.
func (wc *WorkChain) NewData(v ir.IRValue) (*graph.Node, error) {
	return NewData(wc.rt, v)
}

// Report logs a message on behalf of the workchain.
func (wc *WorkChain) Report(msg string, args ...any) {
	wc.logger.Info(msg, args...)
}

// Exit returns an error finishing the workchain with the declared exit
// code labelled label.
func (wc *WorkChain) Exit(label string) error {
	return ExitWith(wc.def.Ports().MustExitCode(label))
}

// Calc is what calcfunction and calcjob code sees of its calculation.
type Calc struct {
	ctx     context.Context
	f       NodeFactory
	node    *graph.Node
	spec    *Spec
	inputs  Inputs
	outputs map[string]*graph.Node
}

// NewCalc binds a calculation view.
func NewCalc(ctx context.Context, f NodeFactory, node *graph.Node, spec *Spec, inputs Inputs) *Calc {
	return &Calc{ctx: ctx, f: f, node: node, spec: spec, inputs: inputs, outputs: make(map[string]*graph.Node)}
}

func (c *Calc) Context() context.Context { return c.ctx }
func (c *Calc) Node() *graph.Node        { return c.node }
func (c *Calc) Inputs() Inputs           { return c.inputs }

// Input returns one input, or nil.
func (c *Calc) Input(name string) *graph.Node { return c.inputs[name] }

// Int returns the payload of an integer input.
func (c *Calc) Int(name string) (int64, error) {
	n := c.inputs[name]
	if n == nil {
		return 0, fmt.Errorf("input %q not set", name)
	}
	return Int(n)
}

// Out registers a new, unstored data node as an output. It is stored with
// a CREATE link when the calculation finishes.
func (c *Calc) Out(name string, n *graph.Node) error {
	if n == nil || n.IsStored() {
		return ir.Errorf(ir.CodeValidation, "calculation output %q must be a new data node", name)
	}
	if n.Type() != ir.NodeData {
		return ir.Errorf(ir.CodeValidation, "calculation output %q must be a data node", name)
	}
	if !ir.IsIdentifier(name) {
		return ir.Errorf(ir.CodeValidation, "output label %q is not an identifier", name)
	}
	if _, ok := c.outputs[name]; ok {
		return ir.Errorf(ir.CodeValidation, "output %q already registered", name)
	}
	c.outputs[name] = n
	return nil
}

// OutValue creates a core data node holding v and registers it.
func (c *Calc) OutValue(name string, v ir.IRValue) error {
	n, err := NewData(c.f, v)
	if err != nil {
		return err
	}
	return c.Out(name, n)
}

// Outputs returns the registered outputs.
func (c *Calc) Outputs() map[string]*graph.Node { return c.outputs }

// Exit returns an error finishing the calculation with the declared exit
// code labelled label.
func (c *Calc) Exit(label string) error {
	return ExitWith(c.spec.MustExitCode(label))
}

// Handler adapts the workchain's steps and conditions to the stepper. A
// step returning an *ExitError stops the outline with its status.
func (wc *WorkChain) Handler() outline.Handler {
	return stepHandler{wc}
}

type stepHandler struct{ wc *WorkChain }

func (h stepHandler) RunStep(name string) (int, error) {
	fn, ok := h.wc.def.Steps[name]
	if !ok {
		return 0, fmt.Errorf("step %q not bound", name)
	}
	err := fn(h.wc)
	if code, ok := AsExit(err); ok {
		return code.Status, nil
	}
	return 0, err
}

func (h stepHandler) Condition(name string) (bool, error) {
	fn, ok := h.wc.def.Conditions[name]
	if !ok {
		return false, fmt.Errorf("condition %q not bound", name)
	}
	return fn(h.wc)
}
