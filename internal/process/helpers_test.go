package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// fakeRuntime creates unstored nodes from the built-in registry and records
// submissions.
type fakeRuntime struct {
	reg       *ir.Registry
	submitted []string
	processes map[string]*graph.Node
	outputs   map[string]map[string]*graph.Node
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		reg:       ir.NewRegistry(),
		processes: make(map[string]*graph.Node),
		outputs:   make(map[string]map[string]*graph.Node),
	}
}

func (f *fakeRuntime) NewNode(subtype string, opts ...graph.NodeOption) (*graph.Node, error) {
	return graph.NewNode(f.reg, subtype, opts...)
}

func (f *fakeRuntime) Submit(_ context.Context, parent *graph.Node, name string, _ Inputs) (Handle, error) {
	child, err := f.NewNode(SubtypeCalcFunction)
	if err != nil {
		return Handle{}, err
	}
	f.submitted = append(f.submitted, name)
	f.processes[child.UUID()] = child
	return Handle{UUID: child.UUID()}, nil
}

func (f *fakeRuntime) LoadProcess(_ context.Context, id string) (*graph.Node, error) {
	n, ok := f.processes[id]
	if !ok {
		return nil, ir.NotExistent("process", id)
	}
	return n, nil
}

func (f *fakeRuntime) Outputs(_ context.Context, id string) (map[string]*graph.Node, error) {
	return f.outputs[id], nil
}

func intNode(t *testing.T, f NodeFactory, v int64) *graph.Node {
	t.Helper()
	n, err := NewData(f, ir.IRInt(v))
	require.NoError(t, err)
	return n
}
