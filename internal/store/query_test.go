package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/queryir"
)

func dataPath(filters queryir.Predicate, project ...string) queryir.Path {
	return queryir.Path{Vertices: []queryir.Vertex{{
		NodeType: ir.NodeData,
		Filters:  filters,
		Project:  project,
	}}}
}

func queryAll(t *testing.T, s *Store, p queryir.Path) []Row {
	t.Helper()
	res, err := s.Query(context.Background(), p)
	require.NoError(t, err)
	rows, err := res.All()
	require.NoError(t, err)
	return rows
}

func TestQuery_DefaultProjectionIsNode(t *testing.T) {
	s := createTestStore(t)
	n := storeData(t, s, 7)

	rows := queryAll(t, s, dataPath(nil))
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 1)
	got, ok := rows[0][0].(*graph.Node)
	require.True(t, ok, "star projection yields a node, got %T", rows[0][0])
	assert.Equal(t, n.UUID(), got.UUID())
	v, _ := got.Attribute("value")
	assert.Equal(t, ir.IRInt(7), v)
}

func TestQuery_FieldProjection(t *testing.T) {
	s := createTestStore(t)
	n := storeData(t, s, 7)

	rows := queryAll(t, s, dataPath(nil, "uuid", "attributes.value", "attributes.missing"))
	require.Len(t, rows, 1)
	assert.Equal(t, ir.IRString(n.UUID()), rows[0][0])
	assert.Equal(t, ir.IRInt(7), rows[0][1])
	assert.Equal(t, ir.IRNull{}, rows[0][2])
}

func TestQuery_Filters(t *testing.T) {
	s := createTestStore(t)
	for i := int64(1); i <= 5; i++ {
		storeData(t, s, i)
	}

	values := func(rows []Row) []ir.IRValue {
		out := make([]ir.IRValue, len(rows))
		for i, r := range rows {
			out[i], _ = r[0].(ir.IRValue)
		}
		return out
	}

	rows := queryAll(t, s, dataPath(queryir.Compare{Field: "attributes.value", Op: queryir.OpGt, Value: ir.IRInt(3)}, "attributes.value"))
	assert.Equal(t, []ir.IRValue{ir.IRInt(4), ir.IRInt(5)}, values(rows))

	pred, err := queryir.ParseFilter(map[string]any{
		"or": []any{
			map[string]any{"attributes.value": 1},
			map[string]any{"attributes.value": map[string]any{"in": []any{4, 5}}},
		},
	})
	require.NoError(t, err)
	rows = queryAll(t, s, dataPath(pred, "attributes.value"))
	assert.Equal(t, []ir.IRValue{ir.IRInt(1), ir.IRInt(4), ir.IRInt(5)}, values(rows))

	rows = queryAll(t, s, dataPath(queryir.Not{Predicate: queryir.Compare{Field: "attributes.value", Op: queryir.OpLte, Value: ir.IRInt(4)}}, "attributes.value"))
	assert.Equal(t, []ir.IRValue{ir.IRInt(5)}, values(rows))
}

func TestQuery_OrderLimitOffset(t *testing.T) {
	s := createTestStore(t)
	for i := int64(1); i <= 5; i++ {
		storeData(t, s, i)
	}

	p := dataPath(nil, "attributes.value")
	p.Vertices[0].Tag = "d"
	p.Order = []queryir.OrderBy{{Tag: "d", Field: "attributes.value", Desc: true}}
	p.Limit = 2
	p.Offset = 1

	res, err := s.Query(context.Background(), p)
	require.NoError(t, err)
	count, err := res.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rows, err := res.All()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ir.IRInt(4), rows[0][0])
	assert.Equal(t, ir.IRInt(3), rows[1][0])
}

func TestQuery_PagesLazily(t *testing.T) {
	s := createTestStore(t, WithBatchSize(2))
	var want []ir.IRValue
	for i := int64(1); i <= 5; i++ {
		n := storeData(t, s, i)
		want = append(want, ir.IRString(n.UUID()))
	}

	res, err := s.Query(context.Background(), dataPath(nil, "uuid"))
	require.NoError(t, err)

	var got []ir.IRValue
	for res.Next() {
		v, _ := res.Row()[0].(ir.IRValue)
		got = append(got, v)
		// The single connection is free between pages.
		require.NoError(t, s.DB().Ping())
	}
	require.NoError(t, res.Err())
	assert.Equal(t, want, got)

	count, err := res.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestQuery_FirstAndOne(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	res, err := s.Query(ctx, dataPath(nil))
	require.NoError(t, err)
	_, err = res.First()
	assert.True(t, ir.IsNotExistent(err))

	storeData(t, s, 1)
	res, err = s.Query(ctx, dataPath(nil))
	require.NoError(t, err)
	_, err = res.One()
	require.NoError(t, err)

	storeData(t, s, 2)
	res, err = s.Query(ctx, dataPath(nil))
	require.NoError(t, err)
	_, err = res.One()
	assert.True(t, ir.IsMultipleObjects(err))
}

func TestQuery_Relations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := storeData(t, s, 1)
	calc, out := chain(t, s, in)
	_, out2 := chain(t, s, out)

	t.Run("input_of", func(t *testing.T) {
		rows := queryAll(t, s, queryir.Path{Vertices: []queryir.Vertex{
			{NodeType: ir.NodeCalculation, Tag: "calc", Filters: queryir.Compare{Field: "id", Op: queryir.OpEq, Value: ir.IRInt(calc.PK())}},
			{NodeType: ir.NodeData, Relation: queryir.InputOf, With: "calc", Project: []string{"uuid"}, EdgeProject: []string{"label"}},
		}})
		require.Len(t, rows, 1)
		assert.Equal(t, ir.IRString(in.UUID()), rows[0][0])
		assert.Equal(t, ir.IRString("x"), rows[0][1])
	})

	t.Run("output_of by distance", func(t *testing.T) {
		rows := queryAll(t, s, queryir.Path{Vertices: []queryir.Vertex{
			{NodeType: ir.NodeCalculation, Filters: queryir.Compare{Field: "id", Op: queryir.OpEq, Value: ir.IRInt(calc.PK())}},
			{NodeType: ir.NodeData, Distance: 1, Project: []string{"uuid"}},
		}})
		require.Len(t, rows, 1)
		assert.Equal(t, ir.IRString(out.UUID()), rows[0][0])
	})

	t.Run("ancestor_of", func(t *testing.T) {
		rows := queryAll(t, s, queryir.Path{Vertices: []queryir.Vertex{
			{Tag: "leaf", Filters: queryir.Compare{Field: "uuid", Op: queryir.OpEq, Value: ir.IRString(out2.UUID())}},
			{NodeType: ir.NodeData, Relation: queryir.AncestorOf, With: "leaf", Project: []string{"id"}},
		}})
		got := make([]ir.IRValue, len(rows))
		for i, r := range rows {
			got[i], _ = r[0].(ir.IRValue)
		}
		assert.Equal(t, []ir.IRValue{ir.IRInt(in.PK()), ir.IRInt(out.PK())}, got)
	})

	t.Run("member_of", func(t *testing.T) {
		g := &Group{Label: "outs"}
		require.NoError(t, s.CreateGroup(ctx, g))
		require.NoError(t, s.AddNodes(ctx, g, out, out2))

		rows := queryAll(t, s, queryir.Path{Vertices: []queryir.Vertex{
			{Kind: ir.EntityGroup, Tag: "g", Filters: queryir.Compare{Field: "label", Op: queryir.OpEq, Value: ir.IRString("outs")}},
			{Relation: queryir.MemberOf, With: "g", Project: []string{"uuid"}},
		}})
		require.Len(t, rows, 2)
		assert.Equal(t, ir.IRString(out.UUID()), rows[0][0])
	})

	t.Run("group star", func(t *testing.T) {
		rows := queryAll(t, s, queryir.Path{Vertices: []queryir.Vertex{{Kind: ir.EntityGroup}}})
		require.Len(t, rows, 1)
		g, ok := rows[0][0].(*Group)
		require.True(t, ok)
		assert.Equal(t, "outs", g.Label)
	})
}

func TestQuery_Distinct(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := storeData(t, s, 1)
	for i := 0; i < 3; i++ {
		calc := newProcess(t, s, "process.calculation.calcfunction")
		link(t, in, calc, ir.LinkInputCalc, "x")
		require.NoError(t, s.StoreNode(ctx, calc))
	}

	p := queryir.Path{Vertices: []queryir.Vertex{
		{NodeType: ir.NodeCalculation, Tag: "calc"},
		{NodeType: ir.NodeData, Relation: queryir.InputOf, With: "calc", Project: []string{"uuid"}},
	}}
	assert.Len(t, queryAll(t, s, p), 3)

	p.Distinct = true
	rows := queryAll(t, s, p)
	require.Len(t, rows, 1)
	assert.Equal(t, ir.IRString(in.UUID()), rows[0][0])
}

func TestQuery_InvalidPath(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Query(context.Background(), dataPath(nil, "no_such_column"))
	assert.True(t, ir.IsValidation(err), "unexpected error: %v", err)
}
