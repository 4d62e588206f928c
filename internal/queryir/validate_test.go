package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

func TestResolve_DefaultProjectionOnLastVertexOnly(t *testing.T) {
	r, err := Resolve(Path{Vertices: []Vertex{
		{NodeType: ir.NodeData},
		{NodeType: ir.NodeCalculation, Distance: -1},
	}})
	require.NoError(t, err)

	assert.True(t, r.DefaultProjectionApplied)
	assert.Empty(t, r.Vertices[0].Project, "default must not project earlier vertices")
	assert.Equal(t, []string{DefaultProjection}, r.Vertices[1].Project)
	assert.Equal(t, []Field{{Column: Star}}, r.Vertices[1].Fields)
}

func TestResolve_ExplicitProjectionDisablesDefault(t *testing.T) {
	r, err := Resolve(Path{Vertices: []Vertex{
		{NodeType: ir.NodeData, Project: []string{"uuid"}},
	}})
	require.NoError(t, err)

	assert.False(t, r.DefaultProjectionApplied)
	assert.Equal(t, []Field{{Column: "uuid"}}, r.Vertices[0].Fields)
}

func TestResolve_ProjectionOnEarlierVertexDisablesDefault(t *testing.T) {
	r, err := Resolve(Path{Vertices: []Vertex{
		{NodeType: ir.NodeData, Project: []string{"pk"}},
		{NodeType: ir.NodeCalculation, Distance: -1},
	}})
	require.NoError(t, err)

	assert.False(t, r.DefaultProjectionApplied)
	assert.Empty(t, r.Vertices[1].Fields)
	assert.Equal(t, []Field{{Column: "id"}}, r.Vertices[0].Fields, "pk is an alias of id")
}

func TestResolve_AutoTags(t *testing.T) {
	r, err := Resolve(Path{Vertices: []Vertex{
		{NodeType: ir.NodeData},
		{NodeType: ir.NodeCalculation, Distance: -1},
		{NodeType: ir.NodeData, Distance: 1},
		{Distance: 1},
		{Kind: ir.EntityGroup, Relation: GroupOf, With: "data"},
	}})
	require.NoError(t, err)

	var tags []string
	for _, v := range r.Vertices {
		tags = append(tags, v.Tag)
	}
	assert.Equal(t, []string{"data", "calculation", "data_1", "node", "group"}, tags)
}

func TestResolve_AutoTagsSkipExplicit(t *testing.T) {
	r, err := Resolve(Path{Vertices: []Vertex{
		{NodeType: ir.NodeData},
		{NodeType: ir.NodeData, Tag: "data_1", Distance: 1},
		{NodeType: ir.NodeData, Distance: 1},
	}})
	require.NoError(t, err)

	assert.Equal(t, "data", r.Vertices[0].Tag)
	assert.Equal(t, "data_1", r.Vertices[1].Tag)
	assert.Equal(t, "data_2", r.Vertices[2].Tag)
}

func TestResolve_Distance(t *testing.T) {
	r, err := Resolve(Path{Vertices: []Vertex{
		{NodeType: ir.NodeData, Tag: "in"},
		{NodeType: ir.NodeCalculation, Tag: "calc", Distance: -1},
		{NodeType: ir.NodeData, Tag: "out", Distance: 1},
	}})
	require.NoError(t, err)

	assert.Equal(t, -1, r.Vertices[0].Join)
	assert.Equal(t, 0, r.Vertices[1].Join)
	assert.Equal(t, InputOf, r.Vertices[1].Relation, "negative distance means input_of")
	assert.Equal(t, "in", r.Vertices[1].With)
	assert.Equal(t, 1, r.Vertices[2].Join)
	assert.Equal(t, OutputOf, r.Vertices[2].Relation, "positive distance means output_of")
}

func TestResolve_DoesNotModifyInput(t *testing.T) {
	p := Path{Vertices: []Vertex{{NodeType: ir.NodeData}}}
	_, err := Resolve(p)
	require.NoError(t, err)
	assert.Empty(t, p.Vertices[0].Tag)
	assert.Empty(t, p.Vertices[0].Project)
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name string
		path Path
	}{
		{"empty", Path{}},
		{"unknown kind", Path{Vertices: []Vertex{{Kind: "table"}}}},
		{"bad node type", Path{Vertices: []Vertex{{NodeType: "blob"}}}},
		{"node type on group", Path{Vertices: []Vertex{{Kind: ir.EntityGroup, NodeType: ir.NodeData}}}},
		{"duplicate tag", Path{Vertices: []Vertex{
			{Tag: "a"},
			{Tag: "a", Distance: 1},
		}}},
		{"missing relation", Path{Vertices: []Vertex{{}, {}}}},
		{"relation on first", Path{Vertices: []Vertex{{Relation: InputOf, With: "x"}}}},
		{"unknown target", Path{Vertices: []Vertex{{}, {Relation: InputOf, With: "nope"}}}},
		{"later target", Path{Vertices: []Vertex{{Tag: "a"}, {Tag: "b", Relation: InputOf, With: "b"}}}},
		{"distance too far", Path{Vertices: []Vertex{{}, {Distance: -2}}}},
		{"relation and distance", Path{Vertices: []Vertex{{Tag: "a"}, {Relation: InputOf, With: "a", Distance: 1}}}},
		{"wrong kinds", Path{Vertices: []Vertex{{Tag: "a"}, {Relation: MemberOf, With: "a"}}}},
		{"edge filter on member_of", Path{Vertices: []Vertex{
			{Kind: ir.EntityGroup, Tag: "g"},
			{Relation: MemberOf, With: "g", EdgeProject: []string{"label"}},
		}}},
		{"unknown field", Path{Vertices: []Vertex{{Project: []string{"colour"}}}}},
		{"json path on plain column", Path{Vertices: []Vertex{{Project: []string{"label.x"}}}}},
		{"unknown edge field", Path{Vertices: []Vertex{{Tag: "a"}, {Distance: 1, EdgeProject: []string{"weight"}}}}},
		{"bad filter operand", Path{Vertices: []Vertex{{Filters: Compare{Field: "attributes.x", Op: OpOfLength, Value: ir.IRString("3")}}}}},
		{"json op on column", Path{Vertices: []Vertex{{Filters: Compare{Field: "label", Op: OpHasKey, Value: ir.IRString("k")}}}}},
		{"order by unknown tag", Path{Vertices: []Vertex{{}}, Order: []OrderBy{{Tag: "x", Field: "id"}}}},
		{"negative limit", Path{Vertices: []Vertex{{}}, Limit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.path)
			require.Error(t, err)
			assert.True(t, ir.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestResolve_RelationKinds(t *testing.T) {
	tests := []struct {
		name   string
		first  ir.EntityKind
		second ir.EntityKind
		rel    Relation
	}{
		{"member_of", ir.EntityGroup, ir.EntityNode, MemberOf},
		{"group_of", ir.EntityNode, ir.EntityGroup, GroupOf},
		{"comment_of", ir.EntityNode, ir.EntityComment, CommentOf},
		{"with_comment", ir.EntityComment, ir.EntityNode, WithComment},
		{"computer_of", ir.EntityNode, ir.EntityComputer, ComputerOf},
		{"with_computer", ir.EntityComputer, ir.EntityNode, WithComputer},
		{"user_of group", ir.EntityGroup, ir.EntityUser, UserOf},
		{"with_user", ir.EntityUser, ir.EntityComment, WithUser},
		{"ancestor_of", ir.EntityNode, ir.EntityNode, AncestorOf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(Path{Vertices: []Vertex{
				{Kind: tt.first, Tag: "a"},
				{Kind: tt.second, Relation: tt.rel, With: "a"},
			}})
			assert.NoError(t, err)
		})
	}
}

func TestResolve_EdgeStarExpands(t *testing.T) {
	r, err := Resolve(Path{Vertices: []Vertex{
		{Tag: "a"},
		{Distance: 1, EdgeProject: []string{Star}},
	}})
	require.NoError(t, err)
	assert.Len(t, r.Vertices[1].EdgeFields, len(EdgeColumns))
	assert.False(t, r.DefaultProjectionApplied, "an edge projection counts as a projection")
}
