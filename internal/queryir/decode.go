package queryir

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// vertexDoc is the file form of a vertex: a Vertex plus filters in their
// nested map form.
type vertexDoc struct {
	Vertex      `yaml:",inline"`
	Filters     map[string]any `yaml:"filters,omitempty"`
	EdgeFilters map[string]any `yaml:"edge_filters,omitempty"`
}

type pathDoc struct {
	Path     []vertexDoc `yaml:"path"`
	Order    []OrderBy   `yaml:"order,omitempty"`
	Limit    int         `yaml:"limit,omitempty"`
	Offset   int         `yaml:"offset,omitempty"`
	Distinct bool        `yaml:"distinct,omitempty"`
}

// DecodeYAML reads a query path document:
//
//	path:
//	  - node_type: data
//	    tag: inp
//	    filters: {attributes.value: {">": 1}}
//	  - subtypes: [process.workflow]
//	    relation: output_of
//	    with: inp
//	    project: ["*"]
//	order: [{tag: inp, field: pk}]
//	limit: 10
//
// Unknown keys are rejected. The path is not resolved.
func DecodeYAML(data []byte) (Path, error) {
	var doc pathDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Path{}, fmt.Errorf("decode query: %w", err)
	}
	return doc.toPath()
}

// DecodeNode decodes a query path embedded in a larger YAML document.
func DecodeNode(node *yaml.Node) (Path, error) {
	var doc pathDoc
	if err := node.Decode(&doc); err != nil {
		return Path{}, fmt.Errorf("decode query: %w", err)
	}
	return doc.toPath()
}

func (d pathDoc) toPath() (Path, error) {
	if len(d.Path) == 0 {
		return Path{}, validationf("query path has no vertices")
	}
	p := Path{Order: d.Order, Limit: d.Limit, Offset: d.Offset, Distinct: d.Distinct}
	for i, vd := range d.Path {
		v := vd.Vertex
		if len(vd.Filters) > 0 {
			f, err := ParseFilter(vd.Filters)
			if err != nil {
				return Path{}, fmt.Errorf("vertex %d filters: %w", i, err)
			}
			v.Filters = f
		}
		if len(vd.EdgeFilters) > 0 {
			f, err := ParseFilter(vd.EdgeFilters)
			if err != nil {
				return Path{}, fmt.Errorf("vertex %d edge filters: %w", i, err)
			}
			v.EdgeFilters = f
		}
		p.Vertices = append(p.Vertices, v)
	}
	return p, nil
}
