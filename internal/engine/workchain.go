package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/store"
)

// scheduleStep queues one step event unless one is already queued or the
// process cannot step.
func (r *Runner) scheduleStep(inst *instance) {
	if inst.stepQueued || inst.paused || inst.state != ir.StateRunning || len(inst.awaiting) > 0 {
		return
	}
	if err := r.enqueue(Event{Type: EventStep, Process: inst.id()}); err != nil {
		slog.Warn("step not scheduled", "process_uuid", inst.id(), "error", err)
		return
	}
	inst.stepQueued = true
}

// handleStep runs one outline step of a workchain.
func (r *Runner) handleStep(ctx context.Context, inst *instance) error {
	inst.stepQueued = false
	def, ok := inst.workchain()
	if !ok {
		return invalidState(inst.id(), "only workchains step")
	}
	if inst.paused || inst.state != ir.StateRunning || len(inst.awaiting) > 0 {
		return nil
	}
	if err := inst.quota.Check(inst.id()); err != nil {
		return err
	}

	wc := process.NewWorkChain(ctx, runtime{r}, inst.node, def, inst.inputs, inst.wc)
	res, err := inst.stepper.Step(wc.Handler())
	pending := inst.wc.Pending
	inst.wc.Pending = nil
	if err != nil {
		if res.Step != "" {
			return fmt.Errorf("step %s: %w", res.Step, err)
		}
		return err
	}
	inst.awaiting = append(inst.awaiting, pending...)
	slog.Debug("step completed",
		"process_uuid", inst.id(),
		"step", res.Step,
		"awaiting", len(inst.awaiting),
		"steps", inst.quota.Current(),
	)

	if err := r.resolveTerminated(ctx, inst); err != nil {
		return err
	}
	return r.advance(ctx, inst)
}

// resolveTerminated resolves awaitables whose child already terminated,
// in registration order.
func (r *Runner) resolveTerminated(ctx context.Context, inst *instance) error {
	var keep []process.Awaitable
	for _, a := range inst.awaiting {
		if _, live := r.procs[a.Child]; live {
			keep = append(keep, a)
			continue
		}
		n, err := r.store.LoadNodeByUUID(ctx, a.Child)
		if err != nil {
			return fmt.Errorf("await %s: %w", a, err)
		}
		if !processState(n).IsTerminal() {
			keep = append(keep, a)
			continue
		}
		r.resolve(inst, a)
	}
	inst.awaiting = keep
	return nil
}

func (r *Runner) resolve(inst *instance, a process.Awaitable) {
	a.Resolve(inst.wc.Vars)
	slog.Debug("awaitable resolved", "process_uuid", inst.id(), "awaitable", a.String())
}

// advance moves a workchain on after a step or a resolution: it waits,
// finishes or schedules the next step.
func (r *Runner) advance(ctx context.Context, inst *instance) error {
	if len(inst.awaiting) > 0 {
		if inst.state != ir.StateWaiting {
			return r.transition(ctx, inst, ir.StateWaiting, fmt.Sprintf("waiting for %d children", len(inst.awaiting)))
		}
		return r.persist(ctx, inst)
	}
	if inst.state == ir.StateWaiting {
		if err := r.transition(ctx, inst, ir.StateRunning, ""); err != nil {
			return err
		}
	}
	if inst.stepper.Finished() {
		return r.finishWorkChain(ctx, inst)
	}
	if err := r.persist(ctx, inst); err != nil {
		return err
	}
	r.scheduleStep(inst)
	return nil
}

// handleChildTerminated resolves the awaitables on a terminated child.
func (r *Runner) handleChildTerminated(ctx context.Context, inst *instance, child string) error {
	if _, ok := inst.workchain(); !ok {
		return nil
	}
	var keep []process.Awaitable
	resolved := false
	for _, a := range inst.awaiting {
		if a.Child != child {
			keep = append(keep, a)
			continue
		}
		r.resolve(inst, a)
		resolved = true
	}
	if !resolved {
		return nil
	}
	inst.awaiting = keep
	return r.advance(ctx, inst)
}

// finishWorkChain checks the registered outputs, links them in one
// transaction and terminates the workchain with the outline's exit status.
// Outputs that fail the check are not linked.
func (r *Runner) finishWorkChain(ctx context.Context, inst *instance) error {
	spec := inst.def.Ports()
	outputs := inst.wc.Outputs
	check := spec.CheckOutputs(outputs)
	code := spec.ExitCodeByStatus(inst.stepper.ExitStatus())
	if code.Status == 0 {
		code = check
	}
	if check.Status == process.ExitInvalidOutput.Status {
		outputs = nil
	}

	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, label := range sortedKeys(outputs) {
			if err := tx.AddLink(ctx, inst.node, outputs[label], ir.LinkReturn, label); err != nil {
				return fmt.Errorf("return %s: %w", label, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.terminate(ctx, inst, ir.StateFinished, code, "", "")
}
