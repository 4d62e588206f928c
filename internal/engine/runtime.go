package engine

import (
	"context"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/process"
)

// runtime is the process.Runtime handed to workchain steps.
type runtime struct{ r *Runner }

var _ process.Runtime = runtime{}

func (rt runtime) NewNode(subtype string, opts ...graph.NodeOption) (*graph.Node, error) {
	return rt.r.newNode(subtype, opts...)
}

func (rt runtime) Submit(ctx context.Context, parent *graph.Node, name string, inputs process.Inputs) (process.Handle, error) {
	return rt.r.submit(ctx, parent, name, inputs)
}

func (rt runtime) LoadProcess(ctx context.Context, uuid string) (*graph.Node, error) {
	return rt.r.store.LoadNodeByUUID(ctx, uuid)
}

func (rt runtime) Outputs(ctx context.Context, uuid string) (map[string]*graph.Node, error) {
	n, err := rt.r.store.LoadNodeByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return rt.r.outputs(ctx, n)
}
