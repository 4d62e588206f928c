package process

import (
	"fmt"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// ValueAttribute holds the payload of the core scalar and container types.
const ValueAttribute = "value"

// NodeFactory creates unstored nodes. *store.Store implements it.
type NodeFactory interface {
	NewNode(subtype string, opts ...graph.NodeOption) (*graph.Node, error)
}

// SubtypeFor returns the core data subtype holding v.
func SubtypeFor(v ir.IRValue) (string, error) {
	switch v.(type) {
	case ir.IRInt:
		return "data.core.int", nil
	case ir.IRFloat:
		return "data.core.float", nil
	case ir.IRString:
		return "data.core.str", nil
	case ir.IRBool:
		return "data.core.bool", nil
	case ir.IRObject:
		return "data.core.dict", nil
	case ir.IRArray:
		return "data.core.list", nil
	}
	return "", ir.Errorf(ir.CodeValidation, "no data type holds %T", v)
}

// NewData creates an unstored data node of the core type matching v.
func NewData(f NodeFactory, v ir.IRValue) (*graph.Node, error) {
	return NewDataAs(f, "", v)
}

// NewDataAs creates an unstored data node of subtype holding v. An empty
// subtype picks the core type matching v.
func NewDataAs(f NodeFactory, subtype string, v ir.IRValue) (*graph.Node, error) {
	if subtype == "" {
		var err error
		if subtype, err = SubtypeFor(v); err != nil {
			return nil, err
		}
	}
	return f.NewNode(subtype, graph.WithAttributes(ir.IRObject{ValueAttribute: v}))
}

// Value returns the payload of a core data node.
func Value(n *graph.Node) (ir.IRValue, bool) {
	if n == nil {
		return nil, false
	}
	return n.Attribute(ValueAttribute)
}

// Int returns the payload of an integer node.
func Int(n *graph.Node) (int64, error) {
	v, ok := Value(n)
	if !ok {
		return 0, fmt.Errorf("node %v has no value", n)
	}
	i, ok := v.(ir.IRInt)
	if !ok {
		return 0, fmt.Errorf("node %v holds %T, not an integer", n, v)
	}
	return int64(i), nil
}

// Float returns the payload of a numeric node as a float.
func Float(n *graph.Node) (float64, error) {
	v, ok := Value(n)
	if !ok {
		return 0, fmt.Errorf("node %v has no value", n)
	}
	switch x := v.(type) {
	case ir.IRFloat:
		return float64(x), nil
	case ir.IRInt:
		return float64(x), nil
	}
	return 0, fmt.Errorf("node %v holds %T, not a number", n, v)
}

// String returns the payload of a string node.
func String(n *graph.Node) (string, error) {
	v, ok := Value(n)
	if !ok {
		return "", fmt.Errorf("node %v has no value", n)
	}
	s, ok := v.(ir.IRString)
	if !ok {
		return "", fmt.Errorf("node %v holds %T, not a string", n, v)
	}
	return string(s), nil
}
