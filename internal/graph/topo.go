package graph

import (
	"fmt"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// TopoIndex maintains a topological order of a DAG under edge insertion
// using the Pearce-Kelly algorithm. Inserting an edge that would close a
// cycle fails and leaves the index unchanged.
//
// Only the affected region between the two endpoints is reordered, so
// insertion cost is proportional to that region rather than the graph.
type TopoIndex struct {
	mu   sync.RWMutex
	ord  map[int64]int
	out  map[int64]mapset.Set[int64]
	in   map[int64]mapset.Set[int64]
	next int
}

// CycleError reports an edge that would create a cycle.
type CycleError struct {
	From, To int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("edge %d -> %d would create a cycle", e.From, e.To)
}

// NewTopoIndex creates an empty index.
func NewTopoIndex() *TopoIndex {
	return &TopoIndex{
		ord: make(map[int64]int),
		out: make(map[int64]mapset.Set[int64]),
		in:  make(map[int64]mapset.Set[int64]),
	}
}

// BuildTopoIndex creates an index from an existing edge list using Kahn's
// algorithm. Ties are broken by ascending id so rebuilds are deterministic.
func BuildTopoIndex(nodes []int64, edges [][2]int64) (*TopoIndex, error) {
	t := NewTopoIndex()
	indeg := make(map[int64]int)
	succ := make(map[int64][]int64)
	all := mapset.NewThreadUnsafeSet[int64](nodes...)
	for _, e := range edges {
		all.Add(e[0])
		all.Add(e[1])
		succ[e[0]] = append(succ[e[0]], e[1])
		indeg[e[1]]++
	}

	var ready []int64
	for _, id := range all.ToSlice() {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		t.addNodeLocked(id)
		var released []int64
		for _, s := range succ[id] {
			indeg[s]--
			if indeg[s] == 0 {
				released = append(released, s)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			slices.Sort(ready)
		}
	}
	if len(t.ord) != all.Cardinality() {
		return nil, fmt.Errorf("build topological index: graph contains a cycle")
	}

	for _, e := range edges {
		t.link(e[0], e[1])
	}
	return t, nil
}

// AddNode registers a node at the end of the order. Existing nodes are kept.
func (t *TopoIndex) AddNode(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addNodeLocked(id)
}

func (t *TopoIndex) addNodeLocked(id int64) {
	if _, ok := t.ord[id]; ok {
		return
	}
	t.ord[id] = t.next
	t.next++
	t.out[id] = mapset.NewThreadUnsafeSet[int64]()
	t.in[id] = mapset.NewThreadUnsafeSet[int64]()
}

// RemoveNode drops a node and its edges. The remaining order stays valid.
func (t *TopoIndex) RemoveNode(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ord[id]; !ok {
		return
	}
	for _, s := range t.out[id].ToSlice() {
		t.in[s].Remove(id)
	}
	for _, p := range t.in[id].ToSlice() {
		t.out[p].Remove(id)
	}
	delete(t.ord, id)
	delete(t.out, id)
	delete(t.in, id)
}

// RemoveEdge drops an edge. The remaining order stays valid.
func (t *TopoIndex) RemoveEdge(from, to int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.out[from]; ok {
		s.Remove(to)
	}
	if p, ok := t.in[to]; ok {
		p.Remove(from)
	}
}

// HasEdge reports whether the edge is present.
func (t *TopoIndex) HasEdge(from, to int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.out[from]
	return ok && s.Contains(to)
}

// AddEdge inserts from -> to, adding unknown endpoints first.
// Returns *CycleError if the edge would close a cycle.
func (t *TopoIndex) AddEdge(from, to int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if from == to {
		return &CycleError{From: from, To: to}
	}
	t.addNodeLocked(from)
	t.addNodeLocked(to)
	if t.out[from].Contains(to) {
		return nil
	}

	lb, ub := t.ord[to], t.ord[from]
	if lb < ub {
		deltaF, found := t.forward(to, ub, from)
		if found {
			return &CycleError{From: from, To: to}
		}
		deltaB := t.backward(from, lb)
		t.reorder(deltaF, deltaB)
	}
	t.link(from, to)
	return nil
}

func (t *TopoIndex) link(from, to int64) {
	t.out[from].Add(to)
	t.in[to].Add(from)
}

// forward collects nodes reachable from start with order <= ub.
// found is true when target is reached.
func (t *TopoIndex) forward(start int64, ub int, target int64) ([]int64, bool) {
	visited := mapset.NewThreadUnsafeSet[int64](start)
	stack := []int64{start}
	var region []int64
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		region = append(region, n)
		for _, s := range t.out[n].ToSlice() {
			if s == target {
				return nil, true
			}
			if t.ord[s] <= ub && visited.Add(s) {
				stack = append(stack, s)
			}
		}
	}
	return region, false
}

// backward collects nodes that reach start with order >= lb.
func (t *TopoIndex) backward(start int64, lb int) []int64 {
	visited := mapset.NewThreadUnsafeSet[int64](start)
	stack := []int64{start}
	var region []int64
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		region = append(region, n)
		for _, p := range t.in[n].ToSlice() {
			if t.ord[p] >= lb && visited.Add(p) {
				stack = append(stack, p)
			}
		}
	}
	return region
}

// reorder places every node of deltaB before every node of deltaF, reusing
// the order slots the two regions already occupy.
func (t *TopoIndex) reorder(deltaF, deltaB []int64) {
	byOrd := func(a, b int64) int { return t.ord[a] - t.ord[b] }
	slices.SortFunc(deltaB, byOrd)
	slices.SortFunc(deltaF, byOrd)

	nodes := append(slices.Clone(deltaB), deltaF...)
	slots := make([]int, len(nodes))
	for i, n := range nodes {
		slots[i] = t.ord[n]
	}
	slices.Sort(slots)
	for i, n := range nodes {
		t.ord[n] = slots[i]
	}
}

// Len returns the number of indexed nodes.
func (t *TopoIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ord)
}
