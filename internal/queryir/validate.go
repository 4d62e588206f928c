package queryir

import (
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// Resolved is a validated path with every tag and join made explicit.
type Resolved struct {
	Vertices []ResolvedVertex
	Order    []OrderBy
	Limit    int
	Offset   int
	Distinct bool

	// DefaultProjectionApplied is set when no vertex projected anything and
	// DefaultProjection was added to the last vertex.
	DefaultProjectionApplied bool
}

// ResolvedVertex is a vertex with its tag and join target resolved.
type ResolvedVertex struct {
	Vertex
	// Join is the index of the vertex this one joins to, -1 for the first.
	Join int
	// Fields are the parsed projections, in order. Star is kept as a field
	// with Column "*".
	Fields     []Field
	EdgeFields []Field
}

// Resolve validates a path and fills in tags, joins and the default
// projection. The input path is not modified.
//
// Validation fails on: an empty path, an unknown entity kind or node type,
// duplicate explicit tags, a non-first vertex without a relation, a
// relation naming an unknown or later tag, a relation invalid for the two
// entity kinds, edge filters or projections on a relation without a link,
// unknown fields and bad operands.
func Resolve(p Path) (*Resolved, error) {
	if len(p.Vertices) == 0 {
		return nil, validationf("query path is empty")
	}
	if p.Limit < 0 || p.Offset < 0 {
		return nil, validationf("limit and offset must not be negative")
	}

	r := &Resolved{
		Vertices: make([]ResolvedVertex, len(p.Vertices)),
		Order:    append([]OrderBy(nil), p.Order...),
		Limit:    p.Limit,
		Offset:   p.Offset,
		Distinct: p.Distinct,
	}

	taken := make(map[string]bool)
	for i, v := range p.Vertices {
		if v.Kind == "" {
			v.Kind = ir.EntityNode
		}
		if !ir.ValidEntityKinds[v.Kind] {
			return nil, validationf("vertex %d: unknown entity kind %q", i, v.Kind)
		}
		if v.Kind != ir.EntityNode && (v.NodeType != "" || len(v.Subtypes) > 0) {
			return nil, validationf("vertex %d: node type filters apply to node vertices only", i)
		}
		if v.NodeType != "" {
			if _, err := ir.ParseNodeType(string(v.NodeType)); err != nil {
				return nil, validationf("vertex %d: %v", i, err)
			}
		}
		if v.Tag != "" {
			if taken[v.Tag] {
				return nil, validationf("duplicate tag %q", v.Tag)
			}
			taken[v.Tag] = true
		}
		v.Project = append([]string(nil), v.Project...)
		v.EdgeProject = append([]string(nil), v.EdgeProject...)
		r.Vertices[i] = ResolvedVertex{Vertex: v, Join: -1}
	}

	// Auto tags go after explicit ones so an explicit tag never gets renamed.
	for i := range r.Vertices {
		v := &r.Vertices[i]
		if v.Tag != "" {
			continue
		}
		base := autoTagBase(v.Vertex)
		tag := base
		for n := 1; taken[tag]; n++ {
			tag = fmt.Sprintf("%s_%d", base, n)
		}
		v.Tag = tag
		taken[tag] = true
	}

	index := make(map[string]int, len(r.Vertices))
	for i := range r.Vertices {
		v := &r.Vertices[i]
		if err := resolveJoin(r, i, index); err != nil {
			return nil, err
		}
		index[v.Tag] = i

		kind := v.Kind
		if err := checkPredicate(v.Filters, func(s string) (Field, error) { return ParseField(kind, s) }); err != nil {
			return nil, fmt.Errorf("vertex %q filters: %w", v.Tag, err)
		}
		hasEdge := i > 0 && v.Relation.HasEdge()
		if (v.EdgeFilters != nil || len(v.EdgeProject) > 0) && !hasEdge {
			return nil, validationf("vertex %q: edge filters and projections need an input_of or output_of relation", v.Tag)
		}
		if err := checkPredicate(v.EdgeFilters, ParseEdgeField); err != nil {
			return nil, fmt.Errorf("vertex %q edge filters: %w", v.Tag, err)
		}
	}

	projected := false
	for _, v := range r.Vertices {
		if len(v.Project) > 0 || len(v.EdgeProject) > 0 {
			projected = true
			break
		}
	}
	if !projected {
		last := &r.Vertices[len(r.Vertices)-1]
		last.Project = []string{DefaultProjection}
		r.DefaultProjectionApplied = true
	}

	for i := range r.Vertices {
		v := &r.Vertices[i]
		for _, name := range v.Project {
			if name == Star {
				v.Fields = append(v.Fields, Field{Column: Star})
				continue
			}
			f, err := ParseField(v.Kind, name)
			if err != nil {
				return nil, fmt.Errorf("vertex %q projection: %w", v.Tag, err)
			}
			v.Fields = append(v.Fields, f)
		}
		for _, name := range v.EdgeProject {
			if name == Star {
				for _, c := range EdgeColumns {
					v.EdgeFields = append(v.EdgeFields, Field{Column: c})
				}
				continue
			}
			f, err := ParseEdgeField(name)
			if err != nil {
				return nil, fmt.Errorf("vertex %q edge projection: %w", v.Tag, err)
			}
			v.EdgeFields = append(v.EdgeFields, f)
		}
	}

	for _, o := range r.Order {
		i, ok := index[o.Tag]
		if !ok {
			return nil, validationf("order by unknown tag %q", o.Tag)
		}
		if _, err := ParseField(r.Vertices[i].Kind, o.Field); err != nil {
			return nil, fmt.Errorf("order by %s: %w", o.Tag, err)
		}
	}
	return r, nil
}

func resolveJoin(r *Resolved, i int, index map[string]int) error {
	v := &r.Vertices[i]
	if i == 0 {
		if v.Relation != "" || v.With != "" || v.Distance != 0 {
			return validationf("first vertex %q cannot have a relation", v.Tag)
		}
		return nil
	}

	switch {
	case v.Relation != "" && v.Distance != 0:
		return validationf("vertex %q: give a relation or a distance, not both", v.Tag)
	case v.Distance != 0:
		d := v.Distance
		if d < 0 {
			d = -d
		}
		if d > i {
			return validationf("vertex %q: distance %d reaches before the first vertex", v.Tag, v.Distance)
		}
		v.Join = i - d
		if v.Distance > 0 {
			v.Relation = OutputOf
		} else {
			v.Relation = InputOf
		}
		v.With = r.Vertices[v.Join].Tag
		v.Distance = 0
	case v.Relation != "":
		if v.With == "" {
			return validationf("vertex %q: relation %s needs a target tag", v.Tag, v.Relation)
		}
		j, ok := index[v.With]
		if !ok {
			return validationf("vertex %q: relation target %q is not an earlier tag", v.Tag, v.With)
		}
		v.Join = j
	default:
		return validationf("vertex %q has no relation to an earlier vertex", v.Tag)
	}

	pairs, ok := relationKinds[v.Relation]
	if !ok {
		return validationf("vertex %q: unknown relation %q", v.Tag, v.Relation)
	}
	target := r.Vertices[v.Join].Kind
	for _, pair := range pairs {
		if pair[0] == v.Kind && pair[1] == target {
			return nil
		}
	}
	return validationf("vertex %q: %s cannot relate a %s to a %s", v.Tag, v.Relation, v.Kind, target)
}

// autoTagBase derives a tag from the vertex type name.
func autoTagBase(v Vertex) string {
	if v.Kind == ir.EntityNode && v.NodeType != "" {
		return string(v.NodeType)
	}
	return string(v.Kind)
}
