package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/transport"
)

// jobRoot is the directory under a computer's work dir that holds one
// directory per calcjob.
const jobRoot = "lineage"

func jobDir(id string) string {
	return path.Join(jobRoot, id)
}

// runCalcFunction runs a calcfunction to completion on the loop.
func (r *Runner) runCalcFunction(ctx context.Context, inst *instance, def *process.CalcFunctionDef) error {
	calc := process.NewCalc(ctx, r.store, inst.node, def.Ports(), inst.inputs)
	err := runGuarded(func() error { return def.Func(ctx, calc) })
	return r.finishCalc(ctx, inst, calc, err)
}

// startJob prepares a calcjob and requests a transport to its computer.
// The job runs once the lease arrives.
func (r *Runner) startJob(ctx context.Context, inst *instance, def *process.CalcJobDef) error {
	calc := process.NewCalc(ctx, r.store, inst.node, def.Ports(), inst.inputs)
	inst.calc = calc

	var job *process.JobSpec
	err := runGuarded(func() error {
		var err error
		job, err = def.Prepare(calc)
		return err
	})
	if err != nil {
		return r.finishCalc(ctx, inst, calc, err)
	}
	if job == nil || job.Command == "" {
		return fmt.Errorf("prepare %s: empty job", def.Label)
	}
	inst.job = job

	computer, err := r.store.LoadComputerByPK(ctx, inst.node.ComputerPK())
	if err != nil {
		return err
	}
	if err := r.transition(ctx, inst, ir.StateWaiting, "waiting for transport to "+computer.Label); err != nil {
		return err
	}
	id := inst.id()
	inst.cancelLease = r.pool.RequestAsync(computer, func(l *transport.Lease, err error) {
		if qerr := r.enqueue(Event{Type: EventTransportReady, Process: id, Lease: l, Err: err}); qerr != nil && l != nil {
			l.Release()
		}
	})
	return nil
}

// handleTransportReady runs the prepared job off the loop on the leased
// transport.
func (r *Runner) handleTransportReady(ctx context.Context, inst *instance, lease *transport.Lease, leaseErr error) error {
	inst.cancelLease = nil
	if leaseErr != nil {
		return fmt.Errorf("request transport: %w", leaseErr)
	}
	if inst.job == nil {
		lease.Release()
		return invalidState(inst.id(), "transport ready without a prepared job")
	}
	if err := r.transition(ctx, inst, ir.StateRunning, "running on "+lease.Computer()); err != nil {
		lease.Release()
		return err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	inst.cancelJob = cancel
	id, job := inst.id(), inst.job
	go func() {
		defer lease.Release()
		res, err := transport.RunJob(jobCtx, lease.Transport(), jobDir(id), job)
		if qerr := r.enqueue(Event{Type: EventJobDone, Process: id, Job: res, Err: err}); qerr != nil {
			slog.Warn("job result dropped", "process_uuid", id, "error", qerr)
		}
	}()
	return nil
}

// handleJobDone parses the job result and finishes the calcjob.
func (r *Runner) handleJobDone(ctx context.Context, inst *instance, res *process.JobResult, jobErr error) error {
	if inst.cancelJob != nil {
		inst.cancelJob()
		inst.cancelJob = nil
	}
	if jobErr != nil {
		return fmt.Errorf("run job: %w", jobErr)
	}
	def, ok := inst.def.(*process.CalcJobDef)
	if !ok {
		return invalidState(inst.id(), "job result for a process that is not a calcjob")
	}
	slog.Info("job completed", "process_uuid", inst.id(), "exit_code", res.ExitCode)

	err := runGuarded(func() error {
		if def.Parse == nil {
			if res.ExitCode != 0 {
				return fmt.Errorf("job exited with status %d: %s", res.ExitCode, res.Stderr)
			}
			return nil
		}
		return def.Parse(inst.calc, res)
	})
	return r.finishCalc(ctx, inst, inst.calc, err)
}

// finishCalc stores the created outputs and terminates the calculation.
// An exit error finishes it with that code; any other error excepts it.
func (r *Runner) finishCalc(ctx context.Context, inst *instance, calc *process.Calc, runErr error) error {
	code := process.ExitOK
	if runErr != nil {
		c, ok := process.AsExit(runErr)
		if !ok {
			return runErr
		}
		code = c
	}

	outputs := calc.Outputs()
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, label := range sortedKeys(outputs) {
			out := outputs[label]
			if err := out.AddIncoming(inst.node, ir.LinkCreate, label); err != nil {
				return fmt.Errorf("output %s: %w", label, err)
			}
			if err := tx.StoreNode(ctx, out); err != nil {
				return fmt.Errorf("output %s: %w", label, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if code.Status == 0 {
		code = inst.def.Ports().CheckOutputs(outputs)
	}
	return r.terminate(ctx, inst, ir.StateFinished, code, "", "")
}
