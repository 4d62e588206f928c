package harness

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/queryir"
)

// GraphSnapshot captures the provenance graph left by a scenario.
// Nodes are named by scenario reference so uuids, hashes and timestamps
// never reach the golden file.
type GraphSnapshot struct {
	ScenarioName string
	Deleted      []string
	Nodes        []NodeSnapshot
	Groups       []GroupSnapshot
}

// NodeSnapshot is one stored node with its outgoing links.
type NodeSnapshot struct {
	Ref        string
	Subtype    string
	Label      string
	Attributes ir.IRObject
	Extras     ir.IRObject
	Links      []LinkSnapshot
}

// LinkSnapshot is an outgoing link.
type LinkSnapshot struct {
	Type  ir.LinkType
	Label string
	To    string
}

// GroupSnapshot is a group with its member references.
type GroupSnapshot struct {
	Label   string
	Members []string
}

// allNodes selects every node ordered by pk.
func allNodes() queryir.Path {
	return queryir.Path{
		Vertices: []queryir.Vertex{{Tag: "n", Project: []string{"*"}}},
		Order:    []queryir.OrderBy{{Tag: "n", Field: "pk"}},
	}
}

// snapshot walks the stored graph.
func (h *Harness) snapshot(ctx context.Context, name string) (*GraphSnapshot, error) {
	res, err := h.store.Query(ctx, allNodes())
	if err != nil {
		return nil, err
	}
	rows, err := res.All()
	if err != nil {
		return nil, err
	}

	snap := &GraphSnapshot{ScenarioName: name}
	for _, row := range rows {
		n, ok := row[0].(*graph.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected row cell %T", row[0])
		}
		ns, err := h.nodeSnapshot(ctx, n)
		if err != nil {
			return nil, err
		}
		snap.Nodes = append(snap.Nodes, ns)
	}

	groups, err := h.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		members, err := h.store.GroupNodes(ctx, g)
		if err != nil {
			return nil, err
		}
		gs := GroupSnapshot{Label: g.Label, Members: []string{}}
		for _, m := range members {
			gs.Members = append(gs.Members, h.refName(m.PK()))
		}
		sort.Strings(gs.Members)
		snap.Groups = append(snap.Groups, gs)
	}
	return snap, nil
}

func (h *Harness) nodeSnapshot(ctx context.Context, n *graph.Node) (NodeSnapshot, error) {
	extras := n.Extras().Clone()
	if v, ok := extras[ir.ExtraCachedFrom]; ok {
		extras[ir.ExtraCachedFrom] = ir.IRString(h.refByUUID(attrString(v)))
	}

	ns := NodeSnapshot{
		Ref:        h.refName(n.PK()),
		Subtype:    n.Subtype(),
		Label:      n.Label(),
		Attributes: n.Attributes(),
		Extras:     extras,
	}
	triples, err := h.store.OutgoingLinks(ctx, n)
	if err != nil {
		return ns, err
	}
	for _, t := range triples {
		ns.Links = append(ns.Links, LinkSnapshot{Type: t.Link.Type, Label: t.Link.Label, To: h.refName(t.Node.PK())})
	}
	return ns, nil
}

// toCanonicalMap converts a GraphSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *GraphSnapshot) toCanonicalMap() map[string]any {
	nodes := make([]any, len(s.Nodes))
	for i, n := range s.Nodes {
		links := make([]any, len(n.Links))
		for j, l := range n.Links {
			links[j] = map[string]any{
				"type":  string(l.Type),
				"label": l.Label,
				"to":    l.To,
			}
		}
		node := map[string]any{
			"ref":        n.Ref,
			"subtype":    n.Subtype,
			"attributes": n.Attributes,
			"links":      links,
		}
		if n.Label != "" {
			node["label"] = n.Label
		}
		if len(n.Extras) > 0 {
			node["extras"] = n.Extras
		}
		nodes[i] = node
	}

	groups := make([]any, len(s.Groups))
	for i, g := range s.Groups {
		members := make([]any, len(g.Members))
		for j, m := range g.Members {
			members[j] = m
		}
		groups[i] = map[string]any{"label": g.Label, "members": members}
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"nodes":         nodes,
	}
	if len(groups) > 0 {
		result["groups"] = groups
	}
	if len(s.Deleted) > 0 {
		deleted := make([]any, len(s.Deleted))
		for i, d := range s.Deleted {
			deleted[i] = d
		}
		result["deleted"] = deleted
	}
	return result
}

// Canonical returns the canonical JSON form stored in golden files.
func (s *GraphSnapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the final graph against a
// golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed: %v", scenario.Name, result.Errors)
	}

	AssertGolden(t, scenario.Name, result.Snapshot)
	return nil
}

// AssertGolden compares a snapshot with testdata/golden/{name}.golden.
func AssertGolden(t *testing.T, name string, snap *GraphSnapshot) {
	t.Helper()

	data, err := snap.Canonical()
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
