package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/queryir"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Ref      string
	Expected any
	Actual   any
	Message  string
}

func (e *AssertionError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s %s: %s (expected %v, got %v)", e.Type, e.Ref, e.Message, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: %s (expected %v, got %v)", e.Type, e.Message, e.Expected, e.Actual)
}

// evaluate checks one assertion against the final graph.
func (h *Harness) evaluate(ctx context.Context, a Assertion, result *Result) error {
	switch a.Type {
	case AssertProcess:
		return h.assertProcess(ctx, a)
	case AssertExists:
		return h.assertExists(ctx, a)
	case AssertDeleted:
		return h.assertDeleted(ctx, a, result)
	case AssertLink:
		return h.assertLink(ctx, a)
	case AssertCached:
		return h.assertCached(ctx, a)
	case AssertQuery:
		return h.assertQuery(ctx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) assertProcess(ctx context.Context, a Assertion) error {
	n, err := h.lookup(ctx, a.Ref)
	if err != nil {
		return err
	}
	if n.Type() == ir.NodeData {
		return &AssertionError{Type: a.Type, Ref: a.Ref, Message: "not a process", Expected: "process", Actual: n.Subtype()}
	}

	if a.State != "" {
		state, _ := n.Attribute(ir.AttrProcessState)
		if got := attrString(state); got != a.State {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Message: "state mismatch", Expected: a.State, Actual: got}
		}
	}
	if a.ExitStatus != nil {
		v, _ := n.Attribute(ir.AttrExitStatus)
		got, ok := v.(ir.IRInt)
		if !ok || int(got) != *a.ExitStatus {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Message: "exit status mismatch", Expected: *a.ExitStatus, Actual: v}
		}
	}

	if len(a.Outputs) == 0 {
		return nil
	}
	outputs, err := h.outputs(ctx, n)
	if err != nil {
		return err
	}
	for _, label := range sortedKeys(a.Outputs) {
		out, ok := outputs[label]
		if !ok {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Message: "missing output " + label, Expected: a.Outputs[label], Actual: nil}
		}
		if err := matchValue(out, a.Outputs[label]); err != nil {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Message: "output " + label + ": " + err.Error(), Expected: a.Outputs[label], Actual: attrOrNil(out)}
		}
	}
	return nil
}

// outputs returns the data a process created or returned, by link label.
func (h *Harness) outputs(ctx context.Context, n *graph.Node) (map[string]*graph.Node, error) {
	triples, err := h.store.OutgoingLinks(ctx, n, ir.LinkCreate, ir.LinkReturn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*graph.Node, len(triples))
	for _, t := range triples {
		out[t.Link.Label] = t.Node
	}
	return out, nil
}

// matchValue compares a data node's payload with an expected YAML value
// through canonical JSON.
func matchValue(n *graph.Node, expected any) error {
	want, err := ir.FromAny(expected)
	if err != nil {
		return err
	}
	got, ok := process.Value(n)
	if !ok {
		return fmt.Errorf("node has no value")
	}
	wb, err := ir.MarshalCanonical(want)
	if err != nil {
		return err
	}
	gb, err := ir.MarshalCanonical(got)
	if err != nil {
		return err
	}
	if !bytes.Equal(wb, gb) {
		return fmt.Errorf("value mismatch")
	}
	return nil
}

func (h *Harness) assertExists(ctx context.Context, a Assertion) error {
	for _, ref := range a.Refs {
		if _, err := h.lookup(ctx, ref); err != nil {
			return &AssertionError{Type: a.Type, Ref: ref, Message: err.Error(), Expected: "stored", Actual: "missing"}
		}
	}
	return nil
}

func (h *Harness) assertDeleted(ctx context.Context, a Assertion, result *Result) error {
	for _, ref := range a.Refs {
		_, err := h.lookup(ctx, ref)
		if err == nil {
			return &AssertionError{Type: a.Type, Ref: ref, Message: "node still stored", Expected: "deleted", Actual: "stored"}
		}
		if !ir.IsNotExistent(err) {
			return err
		}
	}
	if a.Count != nil && len(result.Deleted) != *a.Count {
		return &AssertionError{Type: a.Type, Message: "closure size mismatch", Expected: *a.Count, Actual: len(result.Deleted)}
	}
	return nil
}

func (h *Harness) assertLink(ctx context.Context, a Assertion) error {
	from, err := h.lookup(ctx, a.From)
	if err != nil {
		return err
	}
	to, err := h.lookup(ctx, a.To)
	if err != nil {
		return err
	}
	triples, err := h.store.OutgoingLinks(ctx, from, ir.LinkType(a.LinkType))
	if err != nil {
		return err
	}
	for _, t := range triples {
		if t.Node.PK() == to.PK() && (a.Label == "" || t.Link.Label == a.Label) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Ref:      a.From,
		Message:  "link not found",
		Expected: fmt.Sprintf("%s -[%s %s]-> %s", a.From, a.LinkType, a.Label, a.To),
		Actual:   len(triples),
	}
}

func (h *Harness) assertCached(ctx context.Context, a Assertion) error {
	n, err := h.lookup(ctx, a.Ref)
	if err != nil {
		return err
	}
	src, err := h.lookup(ctx, a.From)
	if err != nil {
		return err
	}
	v, _ := n.Extra(ir.ExtraCachedFrom)
	if got := attrString(v); got != src.UUID() {
		return &AssertionError{Type: a.Type, Ref: a.Ref, Message: "not cached from " + a.From, Expected: a.From, Actual: h.refByUUID(got)}
	}
	return nil
}

func (h *Harness) assertQuery(ctx context.Context, a Assertion) error {
	path, err := queryir.DecodeNode(&a.Query)
	if err != nil {
		return err
	}
	res, err := h.store.Query(ctx, path)
	if err != nil {
		return err
	}
	rows, err := res.All()
	if err != nil {
		return err
	}

	if a.Count != nil && len(rows) != *a.Count {
		return &AssertionError{Type: a.Type, Message: "row count mismatch", Expected: *a.Count, Actual: len(rows)}
	}
	if a.Refs == nil {
		return nil
	}

	got := make([]string, 0, len(rows))
	for _, row := range rows {
		ref := ""
		for _, cell := range row {
			if n, ok := cell.(*graph.Node); ok {
				ref = h.refName(n.PK())
				break
			}
		}
		if ref == "" {
			return fmt.Errorf("query rows carry no node; project \"*\"")
		}
		got = append(got, ref)
	}
	if !slices.Equal(got, a.Refs) {
		return &AssertionError{
			Type:     a.Type,
			Message:  "rows mismatch",
			Expected: strings.Join(a.Refs, ","),
			Actual:   strings.Join(got, ","),
		}
	}
	return nil
}

// refByUUID names the node with the given uuid, if the scenario knows it.
func (h *Harness) refByUUID(id string) string {
	for _, n := range h.refs {
		if n.UUID() == id {
			return h.refName(n.PK())
		}
	}
	return id
}

func attrString(v ir.IRValue) string {
	s, _ := v.(ir.IRString)
	return string(s)
}

func attrOrNil(n *graph.Node) any {
	v, ok := process.Value(n)
	if !ok {
		return nil
	}
	return v
}
