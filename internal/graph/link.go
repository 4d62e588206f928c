package graph

import (
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// Edge is a link between two nodes identified by UUID.
type Edge struct {
	Source string
	Target string
	Type   ir.LinkType
	Label  string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -[%s:%s]-> %s", e.Source, e.Type, e.Label, e.Target)
}

// Link is a stored link row.
type Link struct {
	PK       int64       `json:"pk"`
	InputPK  int64       `json:"input_pk"`
	OutputPK int64       `json:"output_pk"`
	Type     ir.LinkType `json:"type"`
	Label    string      `json:"label"`
}

func linkError(e Edge, msg string) *ir.Error {
	return &ir.Error{Code: ir.CodeValidation, Message: msg, Entity: e.String()}
}

// ValidateLink checks the rules that depend only on the two endpoints:
// no self loops, identifier labels, and the allowed node type pairing.
func ValidateLink(sourceType, targetType ir.NodeType, sourceUUID, targetUUID string, lt ir.LinkType, label string) error {
	e := Edge{Source: sourceUUID, Target: targetUUID, Type: lt, Label: label}

	if sourceUUID == targetUUID {
		return linkError(e, "self links are not allowed")
	}
	if !ir.IsIdentifier(label) {
		return linkError(e, fmt.Sprintf("invalid link label %q", label))
	}
	src, dst, ok := lt.Endpoints()
	if !ok {
		return linkError(e, fmt.Sprintf("unknown link type %q", lt))
	}
	if sourceType != src || targetType != dst {
		return linkError(e, fmt.Sprintf("%s links connect %s to %s, not %s to %s", lt, src, dst, sourceType, targetType))
	}
	return nil
}

// CheckConflicts checks a new edge against the target's existing incoming
// edges and the source's existing outgoing edges.
//
//   - a data node has at most one creator (one incoming CREATE)
//   - a process has at most one caller (one incoming CALL_*)
//   - input labels are unique among the target's incoming input links
//   - CREATE and RETURN labels are unique among the source's outgoing links of that type
func CheckConflicts(e Edge, targetIncoming, sourceOutgoing []Edge) error {
	for _, in := range targetIncoming {
		switch {
		case in.Source == e.Source && in.Type == e.Type && in.Label == e.Label:
			return linkError(e, "link already exists")
		case e.Type == ir.LinkCreate && in.Type == ir.LinkCreate:
			return linkError(e, fmt.Sprintf("node already created by %s", in.Source))
		case e.Type.IsCall() && in.Type.IsCall():
			return linkError(e, fmt.Sprintf("process already called by %s", in.Source))
		case e.Type.IsInput() && in.Type.IsInput() && in.Label == e.Label:
			return linkError(e, fmt.Sprintf("input label %q already used", e.Label))
		}
	}
	if e.Type.IsOutput() {
		for _, out := range sourceOutgoing {
			if out.Type == e.Type && out.Label == e.Label && out.Target != e.Target {
				return linkError(e, fmt.Sprintf("output label %q already used", e.Label))
			}
		}
	}
	return nil
}
