package graph

import (
	"context"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/lineage/internal/ir"
)

// DeleteRules selects which toggleable link types the deletion closure
// follows. INPUT_CALC and INPUT_WORK are always followed forward, RETURN is
// never followed, and no link is ever followed backward.
type DeleteRules struct {
	CreateForward   bool
	CallCalcForward bool
	CallWorkForward bool
}

// DefaultDeleteRules follows every toggleable link.
func DefaultDeleteRules() DeleteRules {
	return DeleteRules{CreateForward: true, CallCalcForward: true, CallWorkForward: true}
}

// Follows reports whether the closure traverses links of type lt.
func (r DeleteRules) Follows(lt ir.LinkType) bool {
	switch lt {
	case ir.LinkInputCalc, ir.LinkInputWork:
		return true
	case ir.LinkCreate:
		return r.CreateForward
	case ir.LinkCallCalc:
		return r.CallCalcForward
	case ir.LinkCallWork:
		return r.CallWorkForward
	default:
		return false
	}
}

// FollowedTypes lists the link types the closure traverses.
func (r DeleteRules) FollowedTypes() []ir.LinkType {
	var out []ir.LinkType
	for _, lt := range ir.AllLinkTypes {
		if r.Follows(lt) {
			out = append(out, lt)
		}
	}
	return out
}

// PKEdge is a stored link between node primary keys.
type PKEdge struct {
	From int64
	To   int64
	Type ir.LinkType
}

// EdgeSource supplies outgoing links for a frontier of nodes.
type EdgeSource interface {
	OutgoingEdges(ctx context.Context, pks []int64, types []ir.LinkType) ([]PKEdge, error)
}

// DeletionClosure computes every node that must go when roots are deleted.
// The traversal is a breadth-first walk forward along followed links.
// The returned edges are those among closure members, for ordering.
func DeletionClosure(ctx context.Context, src EdgeSource, roots []int64, rules DeleteRules) (mapset.Set[int64], []PKEdge, error) {
	closure := mapset.NewThreadUnsafeSet[int64](roots...)
	types := rules.FollowedTypes()
	frontier := closure.ToSlice()
	var edges []PKEdge

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		slices.Sort(frontier)
		out, err := src.OutgoingEdges(ctx, frontier, types)
		if err != nil {
			return nil, nil, err
		}
		frontier = frontier[:0]
		for _, e := range out {
			edges = append(edges, e)
			if closure.Add(e.To) {
				frontier = append(frontier, e.To)
			}
		}
	}
	return closure, edges, nil
}

// DeletionOrder returns the closure in reverse topological order: every
// node appears before the nodes it was derived from. Ties break on pk
// descending so the order is deterministic.
func DeletionOrder(closure mapset.Set[int64], edges []PKEdge) []int64 {
	nodes := closure.ToSlice()
	indeg := make(map[int64]int, len(nodes))
	succ := make(map[int64][]int64)
	for _, e := range edges {
		if !closure.Contains(e.From) || !closure.Contains(e.To) {
			continue
		}
		succ[e.From] = append(succ[e.From], e.To)
		indeg[e.To]++
	}

	ready := make([]int64, 0)
	for _, n := range nodes {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	slices.Sort(ready)

	order := make([]int64, 0, len(nodes))
	seen := mapset.NewThreadUnsafeSet[int64]()
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		seen.Add(n)
		for _, s := range succ[n] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
		slices.Sort(ready)
	}

	// Followed links never form a cycle, but keep any leftovers.
	var rest []int64
	for _, n := range nodes {
		if !seen.Contains(n) {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	order = append(order, rest...)

	slices.Reverse(order)
	return order
}
