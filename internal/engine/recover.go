package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/outline"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/queryir"
)

// activeProcesses selects every process node that has not terminated, in
// creation order.
func activeProcesses() queryir.Path {
	return queryir.Path{
		Vertices: []queryir.Vertex{{
			Tag:      "process",
			Subtypes: []string{"process"},
			Filters: queryir.Compare{
				Field: "attributes." + ir.AttrProcessState,
				Op:    queryir.OpIn,
				Value: ir.IRArray{
					ir.IRString(ir.StateCreated),
					ir.IRString(ir.StateRunning),
					ir.IRString(ir.StateWaiting),
				},
			},
		}},
		Order: []queryir.OrderBy{{Tag: "process", Field: "pk"}},
	}
}

// Recover reloads every non-terminal process from the store and resumes
// it. Workchains continue from their checkpoint; calculations restart.
// Processes that cannot be restored are excepted. It returns the number of
// processes resumed and must run on the loop goroutine before Run.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	res, err := r.store.Query(ctx, activeProcesses())
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	rows, err := res.All()
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}

	var restored []*instance
	for _, row := range rows {
		n, ok := row[0].(*graph.Node)
		if !ok || r.procs[n.UUID()] != nil {
			continue
		}
		inst, err := r.restore(ctx, n)
		if err != nil {
			slog.Error("process not recoverable", "process_uuid", n.UUID(), "error", err)
			if xerr := r.except(ctx, inst, err); xerr != nil {
				return len(restored), xerr
			}
			continue
		}
		// Started workchains go live first so their children find a caller.
		if inst.stepper != nil {
			r.procs[inst.id()] = inst
		}
		restored = append(restored, inst)
	}

	for _, inst := range restored {
		if err := r.resume(ctx, inst); err != nil {
			return len(restored), err
		}
		slog.Info("process recovered", "process_uuid", inst.id(), "process_label", inst.name(), "state", inst.state)
	}
	return len(restored), nil
}

// restore rebuilds a live instance from a stored process node. On failure
// the returned instance still carries the node so it can be excepted.
func (r *Runner) restore(ctx context.Context, n *graph.Node) (*instance, error) {
	inst := &instance{
		node:  n,
		state: processState(n),
		quota: NewQuotaEnforcer(r.maxSteps),
	}
	name, _ := n.Attribute(ir.AttrProcessType)
	nameStr, _ := name.(ir.IRString)
	def, err := r.registry.Get(string(nameStr))
	if err != nil {
		return inst, unknownProcess(string(nameStr))
	}
	inst.def = def

	in, err := r.store.IncomingLinks(ctx, n, ir.LinkInputCalc, ir.LinkInputWork)
	if err != nil {
		return inst, err
	}
	inst.inputs = make(process.Inputs, len(in))
	for _, t := range in {
		inst.inputs[t.Link.Label] = t.Node
	}
	callers, err := r.store.IncomingLinks(ctx, n, ir.LinkCallCalc, ir.LinkCallWork)
	if err != nil {
		return inst, err
	}
	if len(callers) > 0 {
		inst.parent = callers[0].Node.UUID()
	}
	if v, ok := n.Attribute(ir.AttrPaused); ok {
		p, _ := v.(ir.IRBool)
		inst.paused = bool(p)
	}

	wdef, ok := def.(*process.WorkChainDef)
	if !ok || inst.state == ir.StateCreated {
		return inst, nil
	}
	raw, ok := n.Attribute(ir.AttrCheckpoints)
	enc, isStr := raw.(ir.IRString)
	if !ok || !isStr {
		return inst, checkpointCorrupt(n.UUID(), fmt.Errorf("no checkpoint"))
	}
	cp, err := process.DecodeCheckpoint(string(enc))
	if err != nil {
		return inst, checkpointCorrupt(n.UUID(), err)
	}
	stepper, err := outline.Restore(wdef.Outline, cp.Stepper)
	if err != nil {
		return inst, checkpointCorrupt(n.UUID(), err)
	}

	state := process.NewState()
	if cp.Vars != nil {
		state.Vars = cp.Vars
	}
	for label, id := range cp.Outputs {
		out, err := r.store.LoadNodeByUUID(ctx, id)
		if err != nil {
			return inst, checkpointCorrupt(n.UUID(), fmt.Errorf("output %s: %w", label, err))
		}
		state.Outputs[label] = out
	}
	inst.stepper = stepper
	inst.wc = state
	inst.awaiting = cp.Awaiting
	inst.paused = cp.Paused
	inst.quota = newQuotaEnforcerAt(r.maxSteps, cp.Steps)
	return inst, nil
}

// resume schedules a restored instance.
func (r *Runner) resume(ctx context.Context, inst *instance) error {
	if inst.stepper == nil {
		// Not started, or a calculation: run from the start.
		inst.state = ir.StateCreated
		return r.enqueue(Event{Type: EventStart, Process: inst.id(), inst: inst})
	}
	if inst.parent != "" {
		if _, ok := r.procs[inst.parent]; !ok {
			return r.kill(ctx, inst, "caller "+inst.parent+" is no longer running")
		}
	}
	if err := r.resolveTerminated(ctx, inst); err != nil {
		return r.except(ctx, inst, err)
	}
	if err := r.advance(ctx, inst); err != nil {
		return r.except(ctx, inst, err)
	}
	return nil
}
