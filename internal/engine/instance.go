package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/outline"
	"github.com/roach88/lineage/internal/process"
)

// callLabel labels every CALL link; a process has a single caller.
const callLabel = "CALL"

// instance is a live process held by the loop.
type instance struct {
	node   *graph.Node
	def    process.Definition
	inputs process.Inputs
	state  ir.ProcessState
	parent string
	paused bool
	quota  *QuotaEnforcer

	// workchains
	stepper    *outline.Stepper
	wc         *process.State
	awaiting   []process.Awaitable
	stepQueued bool

	// calcjobs
	calc        *process.Calc
	job         *process.JobSpec
	cancelLease func()
	cancelJob   context.CancelFunc
}

func (inst *instance) id() string { return inst.node.UUID() }

func (inst *instance) name() string {
	if inst.def == nil {
		return ""
	}
	return inst.def.Name()
}

func (inst *instance) workchain() (*process.WorkChainDef, bool) {
	d, ok := inst.def.(*process.WorkChainDef)
	return d, ok
}

// submit validates inputs and stores a new process node called by parent
// (nil for top-level processes), then schedules its start.
func (r *Runner) submit(ctx context.Context, parent *graph.Node, name string, inputs process.Inputs) (process.Handle, error) {
	def, err := r.registry.Get(name)
	if ir.IsNotExistent(err) {
		return process.Handle{}, unknownProcess(name)
	}
	if err != nil {
		return process.Handle{}, err
	}
	prepared, err := def.Ports().PrepareInputs(r.store, inputs)
	if err != nil {
		return process.Handle{}, fmt.Errorf("submit %s: %w", name, err)
	}

	node, err := r.newNode(def.Subtype(),
		graph.WithUUID(r.ids.Generate()),
		graph.WithAttributes(ir.IRObject{
			ir.AttrProcessType:  ir.IRString(name),
			ir.AttrProcessLabel: ir.IRString(name),
			ir.AttrProcessState: ir.IRString(ir.StateCreated),
		}))
	if err != nil {
		return process.Handle{}, fmt.Errorf("submit %s: %w", name, err)
	}

	if job, ok := def.(*process.CalcJobDef); ok {
		c, err := r.store.LoadComputer(ctx, job.Computer)
		if err != nil {
			return process.Handle{}, fmt.Errorf("submit %s: %w", name, err)
		}
		if err := node.SetComputer(c.PK); err != nil {
			return process.Handle{}, err
		}
	}

	inputLink, _ := ir.InputLinkFor(node.Type())
	for _, label := range sortedKeys(prepared) {
		if err := node.AddIncoming(prepared[label], inputLink, label); err != nil {
			return process.Handle{}, fmt.Errorf("submit %s: input %s: %w", name, label, err)
		}
	}
	var parentID string
	if parent != nil {
		callLink, _ := ir.CallLinkFor(node.Type())
		if err := node.AddIncoming(parent, callLink, callLabel); err != nil {
			return process.Handle{}, fmt.Errorf("submit %s: %w", name, err)
		}
		parentID = parent.UUID()
	}

	if err := r.store.StoreAll(ctx, node); err != nil {
		return process.Handle{}, fmt.Errorf("submit %s: %w", name, err)
	}
	h := process.Handle{UUID: node.UUID(), PK: node.PK()}

	if from, ok := node.Extra(ir.ExtraCachedFrom); ok {
		slog.Info("process reused cached result", "process_uuid", h.UUID, "process_label", name, "cached_from", from)
		r.markDone(h.UUID)
		if parentID != "" {
			return h, r.enqueue(Event{Type: EventChildTerminated, Process: parentID, Child: h.UUID})
		}
		return h, nil
	}

	slog.Info("process submitted", "process_uuid", h.UUID, "process_label", name, "parent_uuid", parentID)
	inst := &instance{
		node:   node,
		def:    def,
		inputs: prepared,
		state:  ir.StateCreated,
		parent: parentID,
		quota:  NewQuotaEnforcer(r.maxSteps),
	}
	return h, r.enqueue(Event{Type: EventStart, Process: h.UUID, inst: inst})
}

func (r *Runner) handleStart(ctx context.Context, inst *instance) error {
	if inst == nil {
		return errors.New("start event without process")
	}
	r.procs[inst.id()] = inst

	if inst.parent != "" {
		if _, ok := r.procs[inst.parent]; !ok {
			return r.kill(ctx, inst, "caller "+inst.parent+" is no longer running")
		}
	}

	var err error
	switch def := inst.def.(type) {
	case *process.WorkChainDef:
		if inst.stepper == nil {
			inst.stepper = outline.NewStepper(def.Outline)
			inst.wc = process.NewState()
		}
		if err = r.transition(ctx, inst, ir.StateRunning, ""); err == nil {
			r.scheduleStep(inst)
		}
	case *process.CalcFunctionDef:
		if err = r.transition(ctx, inst, ir.StateRunning, ""); err == nil {
			err = r.runCalcFunction(ctx, inst, def)
		}
	case *process.CalcJobDef:
		if err = r.transition(ctx, inst, ir.StateRunning, ""); err == nil {
			err = r.startJob(ctx, inst, def)
		}
	default:
		err = fmt.Errorf("unsupported process definition %T", inst.def)
	}
	if err != nil {
		return r.except(ctx, inst, err)
	}
	return nil
}

// transition moves a live process to a new non-terminal state and
// persists it.
func (r *Runner) transition(ctx context.Context, inst *instance, to ir.ProcessState, status string) error {
	from := inst.state
	inst.state = to
	if err := inst.node.SetAttribute(ir.AttrProcessState, ir.IRString(to)); err != nil {
		return err
	}
	if err := inst.node.SetAttribute(ir.AttrProcessStatus, ir.IRString(status)); err != nil {
		return err
	}
	if from != to {
		slog.Info("process state changed",
			"process_uuid", inst.id(),
			"process_label", inst.name(),
			"from", from,
			"to", to,
		)
	}
	return r.persist(ctx, inst)
}

// persist writes the checkpoint of a non-terminal process and flushes the
// node.
func (r *Runner) persist(ctx context.Context, inst *instance) error {
	if _, ok := inst.workchain(); ok && inst.stepper != nil {
		cp := &process.Checkpoint{
			Name:     inst.name(),
			State:    inst.state,
			Stepper:  inst.stepper.Save(),
			Vars:     inst.wc.Vars,
			Awaiting: inst.awaiting,
			Paused:   inst.paused,
			Steps:    inst.quota.Current(),
			Outputs:  process.OutputUUIDs(inst.wc.Outputs),
		}
		enc, err := cp.Encode()
		if err != nil {
			return err
		}
		if err := inst.node.SetAttribute(ir.AttrCheckpoints, ir.IRString(enc)); err != nil {
			return err
		}
		slog.Debug("checkpoint saved", "process_uuid", inst.id(), "digest", ir.CheckpointDigest([]byte(enc)))
	}
	if err := inst.node.SetAttribute(ir.AttrPaused, ir.IRBool(inst.paused)); err != nil {
		return err
	}
	return r.store.Flush(ctx, inst.node)
}

// terminate records a terminal state, seals the node and notifies the
// caller.
func (r *Runner) terminate(ctx context.Context, inst *instance, to ir.ProcessState, code process.ExitCode, status, exception string) error {
	if inst.cancelLease != nil {
		inst.cancelLease()
		inst.cancelLease = nil
	}
	if inst.cancelJob != nil {
		inst.cancelJob()
		inst.cancelJob = nil
	}
	delete(r.procs, inst.id())

	from := inst.state
	inst.state = to
	n := inst.node
	attrs := ir.IRObject{
		ir.AttrProcessState:  ir.IRString(to),
		ir.AttrProcessStatus: ir.IRString(status),
		ir.AttrPaused:        ir.IRBool(false),
	}
	if to == ir.StateFinished {
		attrs[ir.AttrExitStatus] = ir.IRInt(code.Status)
		attrs[ir.AttrExitMessage] = ir.IRString(code.Message)
	}
	if exception != "" {
		attrs[ir.AttrException] = ir.IRString(exception)
	}
	for _, k := range attrs.SortedKeys() {
		if err := n.SetAttribute(k, attrs[k]); err != nil {
			return err
		}
	}
	if _, ok := n.Attribute(ir.AttrCheckpoints); ok {
		if err := n.DeleteAttribute(ir.AttrCheckpoints); err != nil {
			return err
		}
	}
	if err := r.store.Flush(ctx, n); err != nil {
		return fmt.Errorf("terminate %s: %w", inst.id(), err)
	}
	if err := r.store.Seal(ctx, n); err != nil {
		return fmt.Errorf("seal %s: %w", inst.id(), err)
	}

	slog.Info("process state changed",
		"process_uuid", inst.id(),
		"process_label", inst.name(),
		"from", from,
		"to", to,
		"exit_status", code.Status,
	)
	r.markDone(inst.id())
	if inst.parent != "" {
		return r.enqueue(Event{Type: EventChildTerminated, Process: inst.parent, Child: inst.id()})
	}
	return nil
}

// except terminates a process with an exception. Runtime failures that
// cannot even record the exception are returned.
func (r *Runner) except(ctx context.Context, inst *instance, cause error) error {
	if inst.state.IsTerminal() {
		return cause
	}
	var se *StepsExceededError
	if errors.As(cause, &se) {
		cause = se.RuntimeError()
	}
	slog.Error("process excepted", "process_uuid", inst.id(), "process_label", inst.name(), "error", cause)
	if err := r.terminate(ctx, inst, ir.StateExcepted, process.ExitCode{}, "", cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return nil
}

// kill kills the live processes inst called, then inst itself.
func (r *Runner) kill(ctx context.Context, inst *instance, message string) error {
	var errs []error
	for _, child := range r.liveChildren(inst) {
		if err := r.kill(ctx, child, "killed by caller "+inst.id()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.terminate(ctx, inst, ir.StateKilled, process.ExitCode{}, message, ""); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// liveChildren returns the live processes called by inst: awaited children
// in registration order, then the rest by uuid.
func (r *Runner) liveChildren(inst *instance) []*instance {
	var out []*instance
	seen := make(map[string]bool)
	for _, a := range inst.awaiting {
		if c, ok := r.procs[a.Child]; ok && !seen[a.Child] {
			out = append(out, c)
			seen[a.Child] = true
		}
	}
	var rest []string
	for id, c := range r.procs {
		if c.parent == inst.id() && !seen[id] {
			rest = append(rest, id)
		}
	}
	for _, id := range sortedStrings(rest) {
		out = append(out, r.procs[id])
	}
	return out
}

func (r *Runner) setPaused(ctx context.Context, inst *instance, paused bool) error {
	if inst.paused == paused {
		return nil
	}
	inst.paused = paused
	status := ""
	if paused {
		status = "paused"
	}
	if err := inst.node.SetAttribute(ir.AttrProcessStatus, ir.IRString(status)); err != nil {
		return err
	}
	if err := r.persist(ctx, inst); err != nil {
		return err
	}
	slog.Info("process paused state changed", "process_uuid", inst.id(), "paused", paused)
	if !paused {
		r.scheduleStep(inst)
	}
	return nil
}

// runGuarded runs process code, converting a panic into an error.
func runGuarded(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}

// hasOffLoopWork reports whether a live process waits on a transport
// request or a running job.
func (r *Runner) hasOffLoopWork() bool {
	for _, inst := range r.procs {
		if inst.cancelLease != nil || inst.cancelJob != nil {
			return true
		}
	}
	return false
}
