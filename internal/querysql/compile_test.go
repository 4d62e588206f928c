package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/queryir"
)

func compile(t *testing.T, p queryir.Path) *Compiled {
	t.Helper()
	r, err := queryir.Resolve(p)
	require.NoError(t, err)
	c, err := NewSQLCompiler().Compile(r)
	require.NoError(t, err)
	return c
}

func TestCompile_SingleVertexDefaultProjection(t *testing.T) {
	c := compile(t, queryir.Path{Vertices: []queryir.Vertex{{NodeType: ir.NodeData}}})

	assert.Contains(t, c.SQL, "FROM nodes v0")
	assert.Contains(t, c.SQL, "WHERE v0.node_type = ?")
	assert.Contains(t, c.SQL, "ORDER BY v0.id ASC")
	assert.Equal(t, []any{"data"}, c.Args)

	require.Len(t, c.Columns, 1)
	assert.True(t, c.Columns[0].IsStar())
	assert.Equal(t, len(queryir.EntityColumns(ir.EntityNode)), c.Columns[0].Width)
	assert.Equal(t, "data.*", c.Columns[0].Key())
}

func TestCompile_ProjectUUIDOnly(t *testing.T) {
	c := compile(t, queryir.Path{Vertices: []queryir.Vertex{{NodeType: ir.NodeData, Project: []string{"uuid"}}}})

	assert.Contains(t, c.SQL, "SELECT v0.uuid FROM nodes v0")
	require.Len(t, c.Columns, 1)
	assert.Equal(t, 1, c.Columns[0].Width)
}

func TestCompile_ValuesAreNeverInterpolated(t *testing.T) {
	c := compile(t, queryir.Path{Vertices: []queryir.Vertex{{
		Filters: queryir.Compare{Field: "label", Op: queryir.OpEq, Value: ir.IRString("secret'; DROP TABLE nodes;--")},
	}}})
	assert.NotContains(t, c.SQL, "secret")
	assert.Contains(t, c.Args, "secret'; DROP TABLE nodes;--")
}

func TestCompile_JSONPathIsParameter(t *testing.T) {
	c := compile(t, queryir.Path{Vertices: []queryir.Vertex{{
		Project: []string{"attributes.value"},
		Filters: queryir.Compare{Field: "attributes.value", Op: queryir.OpGt, Value: ir.IRInt(2)},
	}}})

	assert.Contains(t, c.SQL, "json_quote(json_extract(v0.attributes, ?))")
	assert.Contains(t, c.SQL, "json_extract(v0.attributes, ?) > ?")
	assert.Equal(t, []any{`$."value"`, `$."value"`, int64(2)}, c.Args)
}

func TestCompile_Joins(t *testing.T) {
	tests := []struct {
		name     string
		second   queryir.Vertex
		firstKnd ir.EntityKind
		want     string
	}{
		{"input_of", queryir.Vertex{Relation: queryir.InputOf, With: "a"}, ir.EntityNode,
			"JOIN links e1 ON e1.output_id = v0.id JOIN nodes v1 ON v1.id = e1.input_id"},
		{"output_of", queryir.Vertex{Relation: queryir.OutputOf, With: "a"}, ir.EntityNode,
			"JOIN links e1 ON e1.input_id = v0.id JOIN nodes v1 ON v1.id = e1.output_id"},
		{"ancestor_of", queryir.Vertex{Relation: queryir.AncestorOf, With: "a"}, ir.EntityNode,
			"JOIN lineage_tc t1 ON t1.dst = v0.id JOIN nodes v1 ON v1.id = t1.src"},
		{"descendant_of", queryir.Vertex{Relation: queryir.DescendantOf, With: "a"}, ir.EntityNode,
			"JOIN lineage_tc t1 ON t1.src = v0.id JOIN nodes v1 ON v1.id = t1.dst"},
		{"member_of", queryir.Vertex{Relation: queryir.MemberOf, With: "a"}, ir.EntityGroup,
			"JOIN group_nodes m1 ON m1.group_id = v0.id JOIN nodes v1 ON v1.id = m1.node_id"},
		{"group_of", queryir.Vertex{Kind: ir.EntityGroup, Relation: queryir.GroupOf, With: "a"}, ir.EntityNode,
			"JOIN group_nodes m1 ON m1.node_id = v0.id JOIN groups v1 ON v1.id = m1.group_id"},
		{"comment_of", queryir.Vertex{Kind: ir.EntityComment, Relation: queryir.CommentOf, With: "a"}, ir.EntityNode,
			"JOIN comments v1 ON v1.node_id = v0.id"},
		{"with_computer", queryir.Vertex{Relation: queryir.WithComputer, With: "a"}, ir.EntityComputer,
			"JOIN nodes v1 ON v1.computer_id = v0.id"},
		{"user_of", queryir.Vertex{Kind: ir.EntityUser, Relation: queryir.UserOf, With: "a"}, ir.EntityNode,
			"JOIN users v1 ON v1.id = v0.user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := compile(t, queryir.Path{Vertices: []queryir.Vertex{{Kind: tt.firstKnd, Tag: "a"}, tt.second}})
			assert.Contains(t, c.SQL, tt.want)
		})
	}
}

func TestCompile_TransitiveRelationAddsClosure(t *testing.T) {
	c := compile(t, queryir.Path{Vertices: []queryir.Vertex{
		{Tag: "a"},
		{Relation: queryir.AncestorOf, With: "a"},
	}})
	assert.Contains(t, c.SQL, "WITH RECURSIVE lineage_tc")
	assert.Contains(t, c.CountSQL, "WITH RECURSIVE lineage_tc")

	c = compile(t, queryir.Path{Vertices: []queryir.Vertex{{Tag: "a"}, {Distance: 1}}})
	assert.NotContains(t, c.SQL, "lineage_tc")
}

func TestCompile_OrderByMandatory(t *testing.T) {
	c := compile(t, queryir.Path{
		Vertices: []queryir.Vertex{
			{Tag: "in"},
			{Tag: "calc", Distance: -1},
		},
		Order: []queryir.OrderBy{{Tag: "calc", Field: "ctime", Desc: true}},
	})
	assert.Contains(t, c.SQL, "ORDER BY v1.ctime DESC, v0.id ASC, v1.id ASC, e1.id ASC")
}

func TestCompile_DistinctOrdersByProjection(t *testing.T) {
	c := compile(t, queryir.Path{
		Vertices: []queryir.Vertex{{Project: []string{"subtype", "label"}}},
		Distinct: true,
	})
	assert.Contains(t, c.SQL, "SELECT DISTINCT v0.subtype, v0.label")
	assert.Contains(t, c.SQL, "ORDER BY 1 ASC, 2 ASC")
}

func TestCompile_SubtypePrefix(t *testing.T) {
	c := compile(t, queryir.Path{Vertices: []queryir.Vertex{{Subtypes: []string{"data.core"}}}})
	assert.Contains(t, c.SQL, "(v0.subtype = ? OR substr(v0.subtype, 1, ?) = ?)")
	assert.Equal(t, []any{"data.core", 10, "data.core."}, c.Args)
}

func TestCompile_EdgeFiltersAndProjection(t *testing.T) {
	c := compile(t, queryir.Path{Vertices: []queryir.Vertex{
		{Tag: "calc", NodeType: ir.NodeCalculation},
		{
			Distance:    1,
			EdgeFilters: queryir.Compare{Field: "label", Op: queryir.OpEq, Value: ir.IRString("result")},
			EdgeProject: []string{"label"},
			Project:     []string{"uuid"},
		},
	}})
	assert.Contains(t, c.SQL, "e1.label = ?")
	assert.Contains(t, c.SQL, "SELECT v1.uuid, e1.label")
	require.Len(t, c.Columns, 2)
	assert.True(t, c.Columns[1].Edge)
}

func TestCompile_Operators(t *testing.T) {
	tests := []struct {
		name string
		pred queryir.Predicate
		sql  string
		args []any
	}{
		{"eq null", queryir.Compare{Field: "attributes.x", Op: queryir.OpEq, Value: ir.IRNull{}},
			`json_extract(v0.attributes, ?) IS NULL`, []any{`$."x"`}},
		{"eq list", queryir.Compare{Field: "attributes.x", Op: queryir.OpEq, Value: ir.IRArray{ir.IRInt(1)}},
			`json_quote(json_extract(v0.attributes, ?)) = ?`, []any{`$."x"`, `[1]`}},
		{"in", queryir.Compare{Field: "id", Op: queryir.OpIn, Value: ir.IRArray{ir.IRInt(1), ir.IRInt(2)}},
			`v0.id IN (?, ?)`, []any{int64(1), int64(2)}},
		{"like", queryir.Compare{Field: "label", Op: queryir.OpLike, Value: ir.IRString("a%")},
			`v0.label LIKE ?`, []any{"a%"}},
		{"ilike", queryir.Compare{Field: "label", Op: queryir.OpILike, Value: ir.IRString("A%")},
			`lower(v0.label) LIKE lower(?)`, []any{"A%"}},
		{"contains", queryir.Compare{Field: "attributes.tags", Op: queryir.OpContains, Value: ir.IRArray{ir.IRString("x")}},
			`EXISTS (SELECT 1 FROM json_each(v0.attributes, ?) je WHERE je.value = ?)`, []any{`$."tags"`, "x"}},
		{"has_key", queryir.Compare{Field: "extras", Op: queryir.OpHasKey, Value: ir.IRString("k")},
			`json_type(v0.extras, ?) IS NOT NULL`, []any{`$."k"`}},
		{"of_length", queryir.Compare{Field: "attributes.l", Op: queryir.OpOfLength, Value: ir.IRInt(3)},
			`json_array_length(v0.attributes, ?) = ?`, []any{`$."l"`, int64(3)}},
		{"longer", queryir.Compare{Field: "attributes.l", Op: queryir.OpLonger, Value: ir.IRInt(3)},
			`json_array_length(v0.attributes, ?) > ?`, []any{`$."l"`, int64(3)}},
		{"shorter", queryir.Compare{Field: "attributes.l", Op: queryir.OpShorter, Value: ir.IRInt(3)},
			`json_array_length(v0.attributes, ?) < ?`, []any{`$."l"`, int64(3)}},
		{"float", queryir.Compare{Field: "attributes.f", Op: queryir.OpLte, Value: ir.IRFloat(1.5)},
			`json_extract(v0.attributes, ?) <= ?`, []any{`$."f"`, 1.5}},
		{"not", queryir.Not{Predicate: queryir.Compare{Field: "label", Op: queryir.OpEq, Value: ir.IRString("a")}},
			`NOT (v0.label = ?)`, []any{"a"}},
		{"or", queryir.Or{Predicates: []queryir.Predicate{
			queryir.Compare{Field: "label", Op: queryir.OpEq, Value: ir.IRString("a")},
			queryir.Compare{Field: "label", Op: queryir.OpEq, Value: ir.IRString("b")},
		}}, `(v0.label = ?) OR (v0.label = ?)`, []any{"a", "b"}},
		{"empty or", queryir.Or{}, `1 = 0`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := compile(t, queryir.Path{Vertices: []queryir.Vertex{{Filters: tt.pred, Project: []string{"id"}}}})
			assert.Contains(t, c.SQL, "WHERE "+tt.sql)
			assert.Equal(t, tt.args, c.Args)
		})
	}
}

func TestPage(t *testing.T) {
	sql, args := Page("SELECT 1", []any{"a"}, 10, 20)
	assert.Equal(t, "SELECT 1 LIMIT ? OFFSET ?", sql)
	assert.Equal(t, []any{"a", 10, 20}, args)
}

func TestCompile_Nil(t *testing.T) {
	_, err := NewSQLCompiler().Compile(nil)
	assert.Error(t, err)
}
