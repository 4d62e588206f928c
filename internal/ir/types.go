package ir

import (
	"fmt"
	"regexp"
)

// NodeType is the closed set of node categories.
type NodeType string

const (
	NodeData        NodeType = "data"
	NodeCalculation NodeType = "calculation"
	NodeWorkflow    NodeType = "workflow"
)

// ValidNodeTypes lists allowed node types.
var ValidNodeTypes = map[NodeType]bool{
	NodeData:        true,
	NodeCalculation: true,
	NodeWorkflow:    true,
}

// IsProcess reports whether nodes of this type represent process executions.
func (t NodeType) IsProcess() bool {
	return t == NodeCalculation || t == NodeWorkflow
}

// ParseNodeType converts a string into a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(s)
	if !ValidNodeTypes[t] {
		return "", fmt.Errorf("unknown node type %q", s)
	}
	return t, nil
}

// LinkType is the closed set of provenance edge kinds.
type LinkType string

const (
	LinkInputCalc LinkType = "input_calc"
	LinkInputWork LinkType = "input_work"
	LinkCreate    LinkType = "create"
	LinkReturn    LinkType = "return"
	LinkCallCalc  LinkType = "call_calc"
	LinkCallWork  LinkType = "call_work"
)

// AllLinkTypes lists every link type in a stable order.
var AllLinkTypes = []LinkType{
	LinkInputCalc, LinkInputWork, LinkCreate, LinkReturn, LinkCallCalc, LinkCallWork,
}

// linkEndpoints maps each link type to its (source, target) node types.
var linkEndpoints = map[LinkType][2]NodeType{
	LinkInputCalc: {NodeData, NodeCalculation},
	LinkInputWork: {NodeData, NodeWorkflow},
	LinkCreate:    {NodeCalculation, NodeData},
	LinkReturn:    {NodeWorkflow, NodeData},
	LinkCallCalc:  {NodeWorkflow, NodeCalculation},
	LinkCallWork:  {NodeWorkflow, NodeWorkflow},
}

// ParseLinkType converts a string into a LinkType.
func ParseLinkType(s string) (LinkType, error) {
	t := LinkType(s)
	if _, ok := linkEndpoints[t]; !ok {
		return "", fmt.Errorf("unknown link type %q", s)
	}
	return t, nil
}

// Endpoints returns the node types a link of this type must connect.
func (t LinkType) Endpoints() (source, target NodeType, ok bool) {
	e, ok := linkEndpoints[t]
	return e[0], e[1], ok
}

// IsInput reports whether the link feeds data into a process.
func (t LinkType) IsInput() bool {
	return t == LinkInputCalc || t == LinkInputWork
}

// IsCall reports whether the link records a caller/callee relation.
func (t LinkType) IsCall() bool {
	return t == LinkCallCalc || t == LinkCallWork
}

// IsOutput reports whether the link records data leaving a process.
func (t LinkType) IsOutput() bool {
	return t == LinkCreate || t == LinkReturn
}

// IsProvenance reports whether the link belongs to the data provenance
// subgraph, which must stay acyclic.
func (t LinkType) IsProvenance() bool {
	return t == LinkInputCalc || t == LinkCreate
}

// InputLinkFor returns the input link type for a target process type.
func InputLinkFor(target NodeType) (LinkType, bool) {
	switch target {
	case NodeCalculation:
		return LinkInputCalc, true
	case NodeWorkflow:
		return LinkInputWork, true
	}
	return "", false
}

// CallLinkFor returns the call link type for a callee process type.
func CallLinkFor(callee NodeType) (LinkType, bool) {
	switch callee {
	case NodeCalculation:
		return LinkCallCalc, true
	case NodeWorkflow:
		return LinkCallWork, true
	}
	return "", false
}

// OutputLinkFor returns the output link type emitted by a process type.
func OutputLinkFor(source NodeType) (LinkType, bool) {
	switch source {
	case NodeCalculation:
		return LinkCreate, true
	case NodeWorkflow:
		return LinkReturn, true
	}
	return "", false
}

// EntityKind is the closed set of queryable entity tables.
type EntityKind string

const (
	EntityNode     EntityKind = "node"
	EntityGroup    EntityKind = "group"
	EntityComment  EntityKind = "comment"
	EntityComputer EntityKind = "computer"
	EntityUser     EntityKind = "user"
)

// ValidEntityKinds lists allowed entity kinds.
var ValidEntityKinds = map[EntityKind]bool{
	EntityNode:     true,
	EntityGroup:    true,
	EntityComment:  true,
	EntityComputer: true,
	EntityUser:     true,
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s is a valid link label or port name.
func IsIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}
