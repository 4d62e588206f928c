package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

func TestDecodeYAML(t *testing.T) {
	p, err := DecodeYAML([]byte(`
path:
  - node_type: data
    tag: inp
    filters: {attributes.value: {">": 1}}
  - subtypes: [process.workflow]
    relation: output_of
    with: inp
    edge_filters: {label: x}
    project: ["*"]
order: [{tag: inp, field: pk, desc: true}]
limit: 10
distinct: true
`))
	require.NoError(t, err)
	require.Len(t, p.Vertices, 2)

	assert.Equal(t, ir.NodeType("data"), p.Vertices[0].NodeType)
	assert.Equal(t, "inp", p.Vertices[0].Tag)
	assert.Equal(t, Compare{Field: "attributes.value", Op: OpGt, Value: ir.IRInt(1)}, p.Vertices[0].Filters)

	w := p.Vertices[1]
	assert.Equal(t, []string{"process.workflow"}, w.Subtypes)
	assert.Equal(t, OutputOf, w.Relation)
	assert.Equal(t, "inp", w.With)
	assert.Equal(t, Compare{Field: "label", Op: OpEq, Value: ir.IRString("x")}, w.EdgeFilters)
	assert.Equal(t, []string{"*"}, w.Project)

	assert.Equal(t, []OrderBy{{Tag: "inp", Field: "pk", Desc: true}}, p.Order)
	assert.Equal(t, 10, p.Limit)
	assert.True(t, p.Distinct)

	_, err = Resolve(p)
	assert.NoError(t, err)
}

func TestDecodeYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty path", "path: []\n"},
		{"unknown key", "path:\n  - tga: x\n"},
		{"bad operator", "path:\n  - filters: {label: {\"~=\": x}}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYAML([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
