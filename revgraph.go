package pkgqueue

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
)

// A ReverseDependencyGraph maps installed packages to the installed packages that depend on them.
// Unlike [DependencyGraph], edges point from a dependency to its dependents, so walking it from a
// root shows everything that would be affected by removing the root.
type ReverseDependencyGraph struct {
	*Graph[PackageId]
	Roots []PackageId

	atoms map[PackageId]string
}

// Atom returns the atom string of a node.
func (rg *ReverseDependencyGraph) Atom(id PackageId) string { return rg.atoms[id] }

// ReverseDependencyGraph collects the transitive reverse dependencies of installed packages.  All
// dependency kinds except the excluded ones are followed.
func (r *Resolver) ReverseDependencyGraph(ctx context.Context, roots []PackageId, exclude ...DependencyKind) (*ReverseDependencyGraph, error) {
	res := r.newResolution()
	rg := &ReverseDependencyGraph{
		Graph: NewGraph(res.compareInstalledByAtom),
		Roots: roots,
		atoms: map[PackageId]string{},
	}
	var stack Lifo[PackageId]
	visited := mapset.NewThreadUnsafeSet[PackageId]()
	for _, id := range roots {
		if _, err := res.atom(ctx, Installed(id)); err != nil {
			return nil, err
		}
		rg.ensure(id)
		stack.Push(id)
	}
	for {
		id, ok := stack.Pop()
		if !ok {
			break
		}
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		if !visited.Add(id) {
			continue
		}
		rds, err := res.reverseDependencies(ctx, Installed(id), exclude)
		if err != nil {
			return nil, err
		}
		for _, rd := range rds {
			if _, err := res.atom(ctx, rd); err != nil {
				return nil, err
			}
			rg.AddEdge(id, rd.Id())
			stack.Push(rd.Id())
		}
	}
	for id := range rg.Nodes() {
		rg.atoms[id] = res.atoms[Installed(id)]
	}
	return rg, nil
}
