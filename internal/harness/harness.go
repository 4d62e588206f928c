package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/testutil"
	"github.com/roach88/lineage/internal/workflows"
)

// Harness executes one scenario against a fresh in-memory store.
type Harness struct {
	store  *store.Store
	runner *engine.Runner
	clock  *testutil.StepClock
	ids    *testutil.SequenceUUIDGenerator
	logger *slog.Logger

	// refs maps scenario references to nodes. Run outputs are registered
	// as "<run>.<label>".
	refs map[string]*graph.Node
	// runs holds the result of every run step.
	runs map[string]*engine.Result
	// names maps node pks back to references for snapshots.
	names map[int64]string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// A stepping clock and sequential uuids make the final graph reproducible.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Store fixture nodes, then seal the ones marked sealed
//  3. Create groups
//  4. Run processes to completion through the runner
//  5. Delete the requested closure
//  6. Evaluate assertions and snapshot the graph
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()

	if err := h.buildNodes(ctx, scenario.Nodes); err != nil {
		return nil, fmt.Errorf("build nodes: %w", err)
	}
	if err := h.buildGroups(ctx, scenario.Groups); err != nil {
		return nil, fmt.Errorf("build groups: %w", err)
	}
	for _, step := range scenario.Runs {
		if err := h.run(ctx, step); err != nil {
			return nil, fmt.Errorf("run %s: %w", step.ID, err)
		}
	}
	if scenario.Delete != nil {
		deleted, err := h.delete(ctx, scenario.Delete)
		if err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		result.Deleted = deleted
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a, result); err != nil {
			result.AddError(fmt.Sprintf("assertion[%d] (%s): %v", i, a.Type, err))
		}
	}

	snap, err := h.snapshot(ctx, scenario.Name)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	snap.Deleted = result.Deleted
	result.Snapshot = snap
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	clock := testutil.NewStepClock(0)
	st, err := store.Open(":memory:",
		store.WithClock(clock.Now),
		store.WithCaching(store.CachingPolicy{Enabled: scenario.Caching}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Calcjobs are not registered: scenarios never touch a transport.
	reg, err := workflows.Registry("")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	ids := testutil.NewSequenceUUIDGenerator("")
	return &Harness{
		store:  st,
		runner: engine.New(st, reg, engine.WithIDGenerator(ids)),
		clock:  clock,
		ids:    ids,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		refs:   make(map[string]*graph.Node),
		runs:   make(map[string]*engine.Result),
		names:  make(map[int64]string),
	}, nil
}

// callLabel matches the label the runner puts on CALL links.
const callLabel = "CALL"

// register binds a reference to a stored node.
func (h *Harness) register(ref string, n *graph.Node) {
	h.refs[ref] = n
	if _, taken := h.names[n.PK()]; !taken {
		h.names[n.PK()] = ref
	}
}

// lookup resolves a reference, reloading the node so assertions see the
// latest stored state.
func (h *Harness) lookup(ctx context.Context, ref string) (*graph.Node, error) {
	n, ok := h.refs[ref]
	if !ok {
		return nil, fmt.Errorf("unknown ref %q", ref)
	}
	return h.store.Reload(ctx, n)
}

// buildNodes stores fixture nodes in order. Links into a node are attached
// before storing it; RETURN links are added afterwards because their
// target already exists.
func (h *Harness) buildNodes(ctx context.Context, steps []NodeStep) error {
	fixtureIDs := testutil.NewSequenceUUIDGenerator("f")
	var toSeal []*graph.Node

	for _, step := range steps {
		attrs := ir.IRObject{}
		for k, v := range step.Attributes {
			irv, err := ir.FromAny(v)
			if err != nil {
				return fmt.Errorf("%s: attribute %s: %w", step.ID, k, err)
			}
			attrs[k] = irv
		}
		if step.Value != nil {
			irv, err := ir.FromAny(step.Value)
			if err != nil {
				return fmt.Errorf("%s: value: %w", step.ID, err)
			}
			attrs[process.ValueAttribute] = irv
		}

		opts := []graph.NodeOption{graph.WithUUID(fixtureIDs.Generate()), graph.WithAttributes(attrs)}
		if step.Label != "" {
			opts = append(opts, graph.WithLabel(step.Label))
		}
		n, err := h.store.NewNode(step.Subtype, opts...)
		if err != nil {
			return fmt.Errorf("%s: %w", step.ID, err)
		}
		for k, v := range step.Extras {
			irv, err := ir.FromAny(v)
			if err != nil {
				return fmt.Errorf("%s: extra %s: %w", step.ID, k, err)
			}
			n.SetExtra(k, irv)
		}

		if len(step.Inputs) > 0 || step.Caller != "" {
			if _, ok := ir.InputLinkFor(n.Type()); !ok {
				return fmt.Errorf("%s: %s nodes take no inputs or callers", step.ID, n.Type())
			}
		}
		for _, label := range sortedKeys(step.Inputs) {
			src := h.refs[step.Inputs[label]]
			lt, _ := ir.InputLinkFor(n.Type())
			if err := n.AddIncoming(src, lt, label); err != nil {
				return fmt.Errorf("%s: input %s: %w", step.ID, label, err)
			}
		}
		if step.Caller != "" {
			lt, _ := ir.CallLinkFor(n.Type())
			if err := n.AddIncoming(h.refs[step.Caller], lt, callLabel); err != nil {
				return fmt.Errorf("%s: caller: %w", step.ID, err)
			}
		}
		if step.CreatedBy != nil {
			src := h.refs[step.CreatedBy.Process]
			if err := n.AddIncoming(src, ir.LinkCreate, step.CreatedBy.Label); err != nil {
				return fmt.Errorf("%s: created_by: %w", step.ID, err)
			}
		}

		if err := h.store.StoreNode(ctx, n); err != nil {
			return fmt.Errorf("%s: %w", step.ID, err)
		}
		h.register(step.ID, n)

		if step.ReturnedBy != nil {
			wf := h.refs[step.ReturnedBy.Process]
			if err := h.store.AddLink(ctx, wf, n, ir.LinkReturn, step.ReturnedBy.Label); err != nil {
				return fmt.Errorf("%s: returned_by: %w", step.ID, err)
			}
		}
		for _, label := range sortedKeys(step.Returns) {
			if err := h.store.AddLink(ctx, n, h.refs[step.Returns[label]], ir.LinkReturn, label); err != nil {
				return fmt.Errorf("%s: return %s: %w", step.ID, label, err)
			}
		}
		if step.Sealed {
			toSeal = append(toSeal, n)
		}
	}

	// Seal last so later fixtures may still link from these processes.
	for _, n := range toSeal {
		if err := h.store.Seal(ctx, n); err != nil {
			return fmt.Errorf("seal %s: %w", n.UUID(), err)
		}
	}
	return nil
}

func (h *Harness) buildGroups(ctx context.Context, steps []GroupStep) error {
	for _, step := range steps {
		g := &store.Group{Label: step.Label}
		if err := h.store.CreateGroup(ctx, g); err != nil {
			return fmt.Errorf("%s: %w", step.Label, err)
		}
		members := make([]*graph.Node, 0, len(step.Members))
		for _, ref := range step.Members {
			members = append(members, h.refs[ref])
		}
		if err := h.store.AddNodes(ctx, g, members...); err != nil {
			return fmt.Errorf("%s: %w", step.Label, err)
		}
	}
	return nil
}

// run executes one process to termination and registers the process node
// and its outputs.
func (h *Harness) run(ctx context.Context, step RunStep) error {
	inputs := make(process.Inputs, len(step.Inputs))
	for _, label := range sortedKeys(step.Inputs) {
		raw := step.Inputs[label]
		if s, ok := raw.(string); ok && strings.HasPrefix(s, "@") {
			n, err := h.lookup(ctx, strings.TrimPrefix(s, "@"))
			if err != nil {
				return fmt.Errorf("input %s: %w", label, err)
			}
			inputs[label] = n
			continue
		}
		v, err := ir.FromAny(raw)
		if err != nil {
			return fmt.Errorf("input %s: %w", label, err)
		}
		n, err := process.NewData(h.store, v)
		if err != nil {
			return fmt.Errorf("input %s: %w", label, err)
		}
		inputs[label] = n
	}

	h.logger.Debug("running process", "run", step.ID, "process", step.Process)
	res, err := h.runner.RunSync(ctx, step.Process, inputs)
	if err != nil {
		return err
	}
	h.runs[step.ID] = res
	h.register(step.ID, res.Node)
	for _, label := range sortedKeys(res.Outputs) {
		h.register(step.ID+"."+label, res.Outputs[label])
	}
	return nil
}

// delete applies the delete step and returns the references of the deleted
// nodes, sorted.
func (h *Harness) delete(ctx context.Context, step *DeleteStep) ([]string, error) {
	roots := make([]int64, 0, len(step.Roots))
	for _, ref := range step.Roots {
		n, ok := h.refs[ref]
		if !ok {
			return nil, fmt.Errorf("unknown root %q", ref)
		}
		roots = append(roots, n.PK())
	}

	opts := store.DefaultDeleteOptions()
	opts.DryRun = step.DryRun
	if step.CreateForward != nil {
		opts.Rules.CreateForward = *step.CreateForward
	}
	if step.CallCalcForward != nil {
		opts.Rules.CallCalcForward = *step.CallCalcForward
	}
	if step.CallWorkForward != nil {
		opts.Rules.CallWorkForward = *step.CallWorkForward
	}

	pks, err := h.store.DeleteNodes(ctx, roots, opts)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pks))
	for _, pk := range pks {
		out = append(out, h.refName(pk))
	}
	sort.Strings(out)
	return out, nil
}

// refName returns the reference of a node, or "#<pk>" for nodes the
// scenario never named.
func (h *Harness) refName(pk int64) string {
	if ref, ok := h.names[pk]; ok {
		return ref
	}
	return fmt.Sprintf("#%d", pk)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
