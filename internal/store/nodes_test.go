package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

func TestStoreNode_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := newData(t, s, 42)
	n.SetLabel("answer")
	n.SetDescription("the answer")
	n.SetExtra("tag", ir.IRString("x"))
	require.NoError(t, s.StoreNode(ctx, n))

	require.True(t, n.IsStored())
	assert.NotZero(t, n.PK())
	assert.NotEmpty(t, n.Hash())

	got, err := s.LoadNode(ctx, n.PK())
	require.NoError(t, err)
	assert.Equal(t, n.UUID(), got.UUID())
	assert.Equal(t, "data.core.int", got.Subtype())
	assert.Equal(t, ir.NodeData, got.Type())
	assert.Equal(t, "answer", got.Label())
	assert.Equal(t, "the answer", got.Description())
	assert.Equal(t, n.Hash(), got.Hash())
	assert.True(t, n.Ctime().Equal(got.Ctime()))
	assert.True(t, ir.Equal(n.Attributes(), got.Attributes()))
	assert.True(t, ir.Equal(n.Extras(), got.Extras()))
	assert.True(t, got.IsStored())
}

func TestStoreNode_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := storeData(t, s, 1)
	pk := n.PK()
	require.NoError(t, s.StoreNode(ctx, n))
	assert.Equal(t, pk, n.PK())

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStoreNode_AbstractSubtypeRejected(t *testing.T) {
	s := createTestStore(t)
	n, err := s.NewNode("data")
	if err != nil {
		// Construction may already refuse abstract subtypes.
		assert.True(t, ir.IsStoringNotAllowed(err) || ir.IsValidation(err), "unexpected error: %v", err)
		return
	}
	err = s.StoreNode(context.Background(), n)
	require.Error(t, err)
	assert.True(t, ir.IsStoringNotAllowed(err), "want StoringNotAllowed, got %v", err)
}

func TestStoreNode_UnstoredSourceRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := newData(t, s, 1)
	calc := newProcess(t, s, "process.calculation.calcfunction")
	link(t, in, calc, ir.LinkInputCalc, "x")

	err := s.StoreNode(ctx, calc)
	require.Error(t, err)
	assert.True(t, ir.IsModificationNotAllowed(err))
	assert.False(t, calc.IsStored())
}

func TestStoreAll_StoresSourcesFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	x := newData(t, s, 1)
	y := newData(t, s, 2)
	calc := newProcess(t, s, "process.calculation.calcfunction")
	link(t, x, calc, ir.LinkInputCalc, "x")
	link(t, y, calc, ir.LinkInputCalc, "y")

	require.NoError(t, s.StoreAll(ctx, calc))
	assert.True(t, x.IsStored())
	assert.True(t, y.IsStored())
	assert.True(t, calc.IsStored())
	assert.Less(t, x.PK(), calc.PK())

	in, err := s.IncomingLinks(ctx, calc)
	require.NoError(t, err)
	require.Len(t, in, 2)
	labels := []string{in[0].Link.Label, in[1].Link.Label}
	assert.ElementsMatch(t, []string{"x", "y"}, labels)
}

func TestStoreAll_RollbackLeavesNodesUnstored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	x := newData(t, s, 1)
	calc := newProcess(t, s, "process.calculation.calcfunction")
	link(t, x, calc, ir.LinkInputCalc, "x")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.StoreNode(ctx, x); err != nil {
			return err
		}
		if err := tx.StoreNode(ctx, calc); err != nil {
			return err
		}
		return ir.Errorf(ir.CodeValidation, "abort")
	})
	require.Error(t, err)
	assert.False(t, x.IsStored())
	assert.False(t, calc.IsStored())

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&count))
	assert.Zero(t, count)

	// The same nodes can be stored after the rollback.
	require.NoError(t, s.StoreAll(ctx, calc))
	assert.True(t, calc.IsStored())
}

func TestSavepoint_InnerRollbackKeepsOuterWork(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := newData(t, s, 1)
	b := newData(t, s, 2)

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.StoreNode(ctx, a); err != nil {
			return err
		}
		spErr := tx.Savepoint(ctx, func(tx *Tx) error {
			if err := tx.StoreNode(ctx, b); err != nil {
				return err
			}
			return ir.Errorf(ir.CodeValidation, "inner failure")
		})
		assert.Error(t, spErr)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, a.IsStored())
	assert.False(t, b.IsStored())

	_, err = s.LoadNodeByUUID(ctx, b.UUID())
	assert.True(t, ir.IsNotExistent(err))
}

func TestWithTx_PanicRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	n := newData(t, s, 1)

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.StoreNode(ctx, n); err != nil {
			return err
		}
		panic("boom")
	})
	require.Error(t, err)
	assert.False(t, n.IsStored())
}

func TestStoredAttributes_Immutable(t *testing.T) {
	s := createTestStore(t)
	n := storeData(t, s, 1)

	err := n.SetAttribute("value", ir.IRInt(2))
	require.Error(t, err)
	assert.True(t, ir.IsModificationNotAllowed(err))

	err = s.SetAttribute(context.Background(), n, "value", ir.IRInt(2))
	assert.True(t, ir.IsModificationNotAllowed(err))
}

func TestProcessAttributes_UpdatableUntilSealed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	calc := newProcess(t, s, "process.calculation.calcfunction")
	require.NoError(t, s.StoreNode(ctx, calc))

	require.NoError(t, s.SetAttribute(ctx, calc, ir.AttrProcessState, ir.IRString("running")))
	got, err := s.Reload(ctx, calc)
	require.NoError(t, err)
	v, _ := got.Attribute(ir.AttrProcessState)
	assert.Equal(t, ir.IRString("running"), v)

	finishProcess(t, s, calc)
	assert.True(t, calc.IsSealed())

	err = s.SetAttribute(ctx, calc, ir.AttrProcessState, ir.IRString("running"))
	assert.True(t, ir.IsModificationNotAllowed(err))

	// Extras stay writable after sealing.
	require.NoError(t, s.SetExtra(ctx, calc, "note", ir.IRString("done")))
	got, err = s.Reload(ctx, calc)
	require.NoError(t, err)
	v, _ = got.Extra("note")
	assert.Equal(t, ir.IRString("done"), v)
}

func TestFlush_StaleCopyOfSealedNodeRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	calc := newProcess(t, s, "process.calculation.calcfunction")
	require.NoError(t, s.StoreNode(ctx, calc))

	stale, err := s.LoadNode(ctx, calc.PK())
	require.NoError(t, err)

	finishProcess(t, s, calc)

	require.NoError(t, stale.SetAttribute(ir.AttrProcessState, ir.IRString("excepted")))
	err = s.Flush(ctx, stale)
	require.Error(t, err)
	assert.True(t, ir.IsModificationNotAllowed(err))
}

func TestFlush_MergesKeysFromSeparateWriters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := storeData(t, s, 1)
	other, err := s.LoadNode(ctx, n.PK())
	require.NoError(t, err)

	require.NoError(t, s.SetExtra(ctx, n, "a", ir.IRInt(1)))
	require.NoError(t, s.SetExtra(ctx, other, "b", ir.IRInt(2)))

	got, err := s.Reload(ctx, n)
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}, got.Extras()))
}

func TestDeleteExtra_Persists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := storeData(t, s, 1)
	require.NoError(t, s.SetExtra(ctx, n, "a", ir.IRInt(1)))
	require.NoError(t, s.DeleteExtra(ctx, n, "a"))

	got, err := s.Reload(ctx, n)
	require.NoError(t, err)
	_, ok := got.Extra("a")
	assert.False(t, ok)

	assert.True(t, ir.IsNotExistent(s.DeleteExtra(ctx, n, "a")))
}

func TestSetLabel_BumpsMtime(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := storeData(t, s, 1)
	before := n.Mtime()
	require.NoError(t, s.SetLabel(ctx, n, "renamed"))

	got, err := s.Reload(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label())
	assert.True(t, got.Mtime().After(before))
}

func TestNodeHash_DependsOnInputs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := func(value int64) *graph.Node {
		in := newData(t, s, value)
		calc := newProcess(t, s, "process.calculation.calcfunction")
		link(t, in, calc, ir.LinkInputCalc, "x")
		require.NoError(t, s.StoreAll(ctx, calc))
		return calc
	}

	a := run(1)
	b := run(1)
	c := run(2)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestLoadNodeByIdentifier(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := storeData(t, s, 1)

	got, err := s.LoadNodeByIdentifier(ctx, n.UUID())
	require.NoError(t, err)
	assert.Equal(t, n.PK(), got.PK())

	got, err = s.LoadNodeByIdentifier(ctx, n.UUID()[:8])
	require.NoError(t, err)
	assert.Equal(t, n.PK(), got.PK())

	_, err = s.LoadNodeByIdentifier(ctx, "ffffffff-no-such")
	assert.True(t, ir.IsNotExistent(err))

	_, err = s.LoadNodeByIdentifier(ctx, "a%")
	assert.Error(t, err)
}

func TestLoadNodeByIdentifier_AmbiguousPrefix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{
		"abcd0000-0000-4000-8000-000000000001",
		"abcd0000-0000-4000-8000-000000000002",
	} {
		n, err := s.NewNode("data.core.int", graph.WithUUID(id))
		require.NoError(t, err)
		require.NoError(t, s.StoreNode(ctx, n))
	}

	_, err := s.LoadNodeByIdentifier(ctx, "abcd")
	assert.True(t, ir.IsMultipleObjects(err), "want MultipleObjects, got %v", err)
}

func TestStoreNode_DuplicateUUID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := "11111111-1111-4111-8111-111111111111"
	a, err := s.NewNode("data.core.int", graph.WithUUID(id))
	require.NoError(t, err)
	require.NoError(t, s.StoreNode(ctx, a))

	b, err := s.NewNode("data.core.int", graph.WithUUID(id))
	require.NoError(t, err)
	err = s.StoreNode(ctx, b)
	require.Error(t, err)
	assert.True(t, ir.IsIntegrity(err), "want IntegrityError, got %v", err)
}

func TestCaching_ReusesFinishedCalculation(t *testing.T) {
	s := createTestStore(t, WithCaching(CachingPolicy{Enabled: true}))
	ctx := context.Background()

	run := func() (*graph.Node, *graph.Node) {
		in := newData(t, s, 3)
		calc := newProcess(t, s, "process.calculation.calcfunction")
		link(t, in, calc, ir.LinkInputCalc, "x")
		require.NoError(t, s.StoreAll(ctx, calc))
		return in, calc
	}

	_, first := run()
	require.NoError(t, s.SetAttribute(ctx, first, ir.AttrProcessState, ir.IRString("running")))
	out := newData(t, s, 6)
	link(t, first, out, ir.LinkCreate, "result")
	require.NoError(t, s.StoreNode(ctx, out))
	finishProcess(t, s, first)

	_, second := run()
	from, ok := second.Extra(ir.ExtraCachedFrom)
	require.True(t, ok, "second calculation should be a cache hit")
	assert.Equal(t, ir.IRString(first.UUID()), from)
	assert.True(t, second.IsSealed())
	state, _ := second.Attribute(ir.AttrProcessState)
	assert.Equal(t, ir.IRString("finished"), state)

	outs, err := s.OutgoingLinks(ctx, second, ir.LinkCreate)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "result", outs[0].Link.Label)
	assert.NotEqual(t, out.UUID(), outs[0].Node.UUID())
	v, _ := outs[0].Node.Attribute("value")
	assert.Equal(t, ir.IRInt(6), v)
}

func TestCaching_DisabledByDefault(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		calc := newProcess(t, s, "process.calculation.calcfunction")
		require.NoError(t, s.StoreNode(ctx, calc))
		finishProcess(t, s, calc)
		_, ok := calc.Extra(ir.ExtraCachedFrom)
		assert.False(t, ok)
	}
}

func TestCaching_FailedCalculationNotReused(t *testing.T) {
	s := createTestStore(t, WithCaching(CachingPolicy{Enabled: true}))
	ctx := context.Background()

	failed := newProcess(t, s, "process.calculation.calcfunction")
	require.NoError(t, s.StoreNode(ctx, failed))
	require.NoError(t, failed.SetAttribute(ir.AttrProcessState, ir.IRString("finished")))
	require.NoError(t, failed.SetAttribute(ir.AttrExitStatus, ir.IRInt(10)))
	require.NoError(t, s.Flush(ctx, failed))
	require.NoError(t, s.Seal(ctx, failed))

	again := newProcess(t, s, "process.calculation.calcfunction")
	require.NoError(t, s.StoreNode(ctx, again))
	_, ok := again.Extra(ir.ExtraCachedFrom)
	assert.False(t, ok)
}
