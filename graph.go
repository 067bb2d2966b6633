package pkgqueue

import (
	"iter"
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// A Graph is a directed graph whose edges point from a node to the nodes it depends on.  Iteration
// is always ordered by the comparison function given to [NewGraph], so every traversal of the
// same graph is deterministic.
type Graph[N comparable] struct {
	cmp      func(a, b N) int
	children map[N]mapset.Set[N]
}

// An Edge is a directed edge from a dependent to its dependency.
type Edge[N comparable] struct {
	From, To N
}

func NewGraph[N comparable](cmp func(a, b N) int) *Graph[N] {
	return &Graph[N]{cmp: cmp, children: map[N]mapset.Set[N]{}}
}

// Add sets the children of n, replacing any children it had before.  Children that are not yet
// nodes of the graph are added without children.
func (g *Graph[N]) Add(n N, children ...N) {
	g.children[n] = mapset.NewThreadUnsafeSet(children...)
	for _, c := range children {
		g.ensure(c)
	}
}

// AddEdge adds an edge from one node to another, adding either node if necessary.
func (g *Graph[N]) AddEdge(from, to N) {
	g.ensure(from).Add(to)
	g.ensure(to)
}

func (g *Graph[N]) ensure(n N) mapset.Set[N] {
	s, ok := g.children[n]
	if !ok {
		s = mapset.NewThreadUnsafeSet[N]()
		g.children[n] = s
	}
	return s
}

func (g *Graph[N]) Has(n N) bool {
	_, ok := g.children[n]
	return ok
}

func (g *Graph[N]) HasEdge(from, to N) bool {
	s, ok := g.children[from]
	return ok && s.Contains(to)
}

func (g *Graph[N]) Len() int { return len(g.children) }

func (g *Graph[N]) Nodes() iter.Seq[N] {
	return slices.Values(slices.SortedFunc(maps.Keys(g.children), g.cmp))
}

func (g *Graph[N]) Children(n N) iter.Seq[N] {
	s, ok := g.children[n]
	if !ok {
		return func(func(N) bool) {}
	}
	return slices.Values(slices.SortedFunc(mapset.Elements(s), g.cmp))
}

// Parents returns the nodes with an edge to n.  It scans the whole graph.
func (g *Graph[N]) Parents(n N) iter.Seq[N] {
	return func(yield func(N) bool) {
		for p := range g.Nodes() {
			if g.children[p].Contains(n) && !yield(p) {
				return
			}
		}
	}
}

// Edges yields every edge, ordered by source then target.
func (g *Graph[N]) Edges() iter.Seq[Edge[N]] {
	return func(yield func(Edge[N]) bool) {
		for n := range g.Nodes() {
			for c := range g.Children(n) {
				if !yield(Edge[N]{From: n, To: c}) {
					return
				}
			}
		}
	}
}

// SolveNodes computes dependency levels with Kahn's algorithm on out-degree: level 0 holds the
// nodes without children, level i+1 the nodes whose children all sit at level i or below.  Each
// level is sorted.
//
// A cycle stalls the algorithm.  It is broken by walking from the smallest remaining node along
// its smallest remaining child until a node repeats, and ignoring the edge that closed the loop.
// The ignored edges are returned; the edges themselves stay in the graph.
func (g *Graph[N]) SolveNodes() (levels [][]N, broken []Edge[N]) {
	outdeg := make(map[N]int, len(g.children))
	parents := make(map[N][]N, len(g.children))
	ignored := mapset.NewThreadUnsafeSet[Edge[N]]()
	var ready []N
	for n := range g.Nodes() {
		outdeg[n] = g.children[n].Cardinality()
		if outdeg[n] == 0 {
			ready = append(ready, n)
		}
		for c := range g.Children(n) {
			parents[c] = append(parents[c], n)
		}
	}
	remaining := len(outdeg)
	for remaining > 0 {
		if len(ready) == 0 {
			e := g.backEdge(outdeg, ignored)
			ignored.Add(e)
			broken = append(broken, e)
			if outdeg[e.From]--; outdeg[e.From] == 0 {
				ready = append(ready, e.From)
			}
			continue
		}
		slices.SortFunc(ready, g.cmp)
		levels = append(levels, ready)
		remaining -= len(ready)
		var next []N
		for _, n := range ready {
			delete(outdeg, n)
			for _, p := range parents[n] {
				if _, ok := outdeg[p]; !ok || ignored.Contains(Edge[N]{From: p, To: n}) {
					continue
				}
				if outdeg[p]--; outdeg[p] == 0 {
					next = append(next, p)
				}
			}
		}
		ready = next
	}
	return levels, broken
}

// backEdge finds an edge closing a cycle among the remaining nodes.  Every remaining node has at
// least one remaining, non-ignored child, so the walk always finds one.
func (g *Graph[N]) backEdge(outdeg map[N]int, ignored mapset.Set[Edge[N]]) Edge[N] {
	cur := slices.MinFunc(slices.Collect(maps.Keys(outdeg)), g.cmp)
	seen := mapset.NewThreadUnsafeSet(cur)
	for {
		var next N
		found := false
		for c := range g.Children(cur) {
			if _, ok := outdeg[c]; ok && !ignored.Contains(Edge[N]{From: cur, To: c}) {
				next, found = c, true
				break
			}
		}
		if !found {
			panic("pkgqueue: stalled graph node without remaining children")
		}
		if !seen.Add(next) {
			return Edge[N]{From: cur, To: next}
		}
		cur = next
	}
}

// Order flattens [Graph.SolveNodes] into a single sequence in which every node comes after its
// children, except across broken cycle edges.
func (g *Graph[N]) Order() ([]N, []Edge[N]) {
	levels, broken := g.SolveNodes()
	return slices.Concat(levels...), broken
}
