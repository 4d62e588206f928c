package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// createTestStore creates a new store in a temp dir with an in-memory
// object store.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, append([]Option{WithClock(testClock())}, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
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

func newData(t *testing.T, s *Store, value int64) *graph.Node {
	t.Helper()
	n, err := s.NewNode("data.core.int", graph.WithAttributes(ir.IRObject{"value": ir.IRInt(value)}))
	require.NoError(t, err)
	return n
}

func newProcess(t *testing.T, s *Store, subtype string) *graph.Node {
	t.Helper()
	n, err := s.NewNode(subtype, graph.WithAttributes(ir.IRObject{
		ir.AttrProcessState: ir.IRString("created"),
	}))
	require.NoError(t, err)
	return n
}

func storeData(t *testing.T, s *Store, value int64) *graph.Node {
	t.Helper()
	n := newData(t, s, value)
	require.NoError(t, s.StoreNode(context.Background(), n))
	return n
}

// link records an incoming link on an unstored target.
func link(t *testing.T, src, dst *graph.Node, lt ir.LinkType, label string) {
	t.Helper()
	require.NoError(t, dst.AddIncoming(src, lt, label))
}

// finishProcess marks a stored process finished ok and seals it.
func finishProcess(t *testing.T, s *Store, n *graph.Node) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, n.SetAttribute(ir.AttrProcessState, ir.IRString("finished")))
	require.NoError(t, n.SetAttribute(ir.AttrExitStatus, ir.IRInt(0)))
	require.NoError(t, s.Flush(ctx, n))
	require.NoError(t, s.Seal(ctx, n))
}
