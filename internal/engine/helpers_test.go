package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/transport"
	"github.com/roach88/lineage/internal/workflows"
)

// createTestStore creates a new store in a temp dir.
func createTestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path, append([]store.Option{store.WithClock(testClock())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testClock returns a clock that advances one second per call.
func testClock() graph.Clock {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// testRegistry returns the built-in library plus extra definitions.
// Calcjobs run on the computer labelled "localhost".
func testRegistry(t *testing.T, extra ...process.Definition) *process.Registry {
	t.Helper()
	reg, err := workflows.Registry("localhost")
	require.NoError(t, err)
	for _, d := range extra {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

// createLocalComputer stores the "localhost" computer with a temp work dir.
func createLocalComputer(t *testing.T, s *store.Store) *store.Computer {
	t.Helper()
	c := &store.Computer{Label: "localhost", TransportType: store.TransportLocal, WorkDir: t.TempDir()}
	require.NoError(t, s.CreateComputer(context.Background(), c))
	return c
}

func intInput(t *testing.T, s *store.Store, v int64) *graph.Node {
	t.Helper()
	n, err := process.NewData(s, ir.IRInt(v))
	require.NoError(t, err)
	return n
}

func intValue(t *testing.T, n *graph.Node) int64 {
	t.Helper()
	require.NotNil(t, n)
	v, err := process.Int(n)
	require.NoError(t, err)
	return v
}

// pump processes queued events until the queue is empty.
func pump(r *Runner) int {
	n := 0
	for r.ProcessNext(context.Background()) {
		n++
	}
	return n
}

func loadNode(t *testing.T, s *store.Store, id string) *graph.Node {
	t.Helper()
	n, err := s.LoadNodeByUUID(context.Background(), id)
	require.NoError(t, err)
	return n
}

func stringAttr(n *graph.Node, key string) string {
	v, _ := n.Attribute(key)
	s, _ := v.(ir.IRString)
	return string(s)
}

// children returns the processes a process called, by label order of the
// CALL links.
func children(t *testing.T, s *store.Store, n *graph.Node) []*graph.Node {
	t.Helper()
	triples, err := s.OutgoingLinks(context.Background(), n, ir.LinkCallCalc, ir.LinkCallWork)
	require.NoError(t, err)
	out := make([]*graph.Node, 0, len(triples))
	for _, tr := range triples {
		out = append(out, tr.Node)
	}
	return out
}

// stuckTransport never finishes opening.
type stuckTransport struct{ transport.Local }

func (*stuckTransport) Open(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func stuckPool() *transport.Pool {
	return transport.NewPool(transport.WithFactory(func(*store.Computer) (transport.Transport, error) {
		return &stuckTransport{}, nil
	}))
}

// recorder is a workchain that records the steps it visits.
type recorder struct {
	visited []string
}

func (rec *recorder) step(name string) process.StepFunc {
	return func(*process.WorkChain) error {
		rec.visited = append(rec.visited, name)
		return nil
	}
}
