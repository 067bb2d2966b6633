package pkgqueue

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type tAdj = map[string][]string

func newTestGraph(adj tAdj) *Graph[string] {
	g := NewGraph(strings.Compare)
	for n, children := range adj {
		g.Add(n, children...)
	}
	return g
}

func TestSolveNodes(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc       string
		adj        tAdj
		wantLevels [][]string
		wantBroken []Edge[string]
	}{
		{
			desc: "empty",
		},
		{
			desc:       "single node",
			adj:        tAdj{"a": nil},
			wantLevels: [][]string{{"a"}},
		},
		{
			desc:       "chain",
			adj:        tAdj{"a": {"b"}, "b": {"c"}},
			wantLevels: [][]string{{"c"}, {"b"}, {"a"}},
		},
		{
			desc:       "diamond",
			adj:        tAdj{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}},
			wantLevels: [][]string{{"d"}, {"b", "c"}, {"a"}},
		},
		{
			desc:       "independent roots share a level",
			adj:        tAdj{"z": {"y"}, "a": {"y"}, "m": nil},
			wantLevels: [][]string{{"m", "y"}, {"a", "z"}},
		},
		{
			desc:       "two-node cycle",
			adj:        tAdj{"a": {"b"}, "b": {"a"}},
			wantLevels: [][]string{{"b"}, {"a"}},
			wantBroken: []Edge[string]{{From: "b", To: "a"}},
		},
		{
			desc:       "self loop",
			adj:        tAdj{"a": {"a"}},
			wantLevels: [][]string{{"a"}},
			wantBroken: []Edge[string]{{From: "a", To: "a"}},
		},
		{
			desc:       "cycle below a dependent",
			adj:        tAdj{"x": {"a"}, "a": {"b"}, "b": {"a"}},
			wantLevels: [][]string{{"b"}, {"a"}, {"x"}},
			wantBroken: []Edge[string]{{From: "b", To: "a"}},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			g := newTestGraph(tc.adj)
			levels, broken := g.SolveNodes()
			if diff := cmp.Diff(tc.wantLevels, levels); diff != "" {
				t.Errorf("levels (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantBroken, broken); diff != "" {
				t.Errorf("broken edges (-want +got):\n%s", diff)
			}
			// Every unbroken edge must point backwards in the flattened order.
			order, _ := g.Order()
			pos := map[string]int{}
			for i, n := range order {
				pos[n] = i
			}
			if len(pos) != g.Len() {
				t.Errorf("order has %d distinct nodes, graph has %d", len(pos), g.Len())
			}
			for e := range g.Edges() {
				if slices.Contains(broken, e) {
					continue
				}
				if pos[e.To] >= pos[e.From] {
					t.Errorf("dependency %v does not precede %v in %v", e.To, e.From, order)
				}
			}
		})
	}
}

func TestSolveNodesDeterministic(t *testing.T) {
	t.Parallel()
	adj := tAdj{"a": {"b", "c"}, "b": {"c", "a"}, "c": {"d"}, "d": {"b"}, "e": {"a"}}
	wantLevels, wantBroken := newTestGraph(adj).SolveNodes()
	for range 20 {
		levels, broken := newTestGraph(adj).SolveNodes()
		if diff := cmp.Diff(wantLevels, levels); diff != "" {
			t.Fatalf("levels differ between runs (-first +got):\n%s", diff)
		}
		if diff := cmp.Diff(wantBroken, broken); diff != "" {
			t.Fatalf("broken edges differ between runs (-first +got):\n%s", diff)
		}
	}
}

func TestGraphAdd(t *testing.T) {
	t.Parallel()
	g := NewGraph(strings.Compare)
	g.Add("a", "b")
	g.Add("a", "c")
	g.AddEdge("d", "a")
	if got, want := slices.Collect(g.Nodes()), []string{"a", "b", "c", "d"}; !slices.Equal(got, want) {
		t.Errorf("Nodes() = %v, want %v", got, want)
	}
	if got, want := slices.Collect(g.Children("a")), []string{"c"}; !slices.Equal(got, want) {
		t.Errorf("Children(a) = %v, want %v", got, want)
	}
	if g.HasEdge("a", "b") {
		t.Errorf("HasEdge(a, b) = true after the children of a were replaced")
	}
	if got, want := slices.Collect(g.Parents("a")), []string{"d"}; !slices.Equal(got, want) {
		t.Errorf("Parents(a) = %v, want %v", got, want)
	}
	if got := slices.Collect(g.Children("missing")); len(got) != 0 {
		t.Errorf("Children(missing) = %v, want none", got)
	}
	want := []Edge[string]{{From: "a", To: "c"}, {From: "d", To: "a"}}
	if diff := cmp.Diff(want, slices.Collect(g.Edges())); diff != "" {
		t.Errorf("Edges() (-want +got):\n%s", diff)
	}
}
