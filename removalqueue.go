package pkgqueue

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/pkgqueue/internal/logging"
)

type RemovalOptions struct {
	// Shallow removes only the seeds, without their reverse dependencies.
	Shallow bool
	// Deep also removes installed dependencies of removed packages that nothing else needs.
	Deep bool
}

// A ProtectedDependent is a protected system package that depends on a package being removed.  It
// is kept installed and reported so the caller can warn about it.
type ProtectedDependent struct {
	Dependent  PackageId
	Dependency PackageId
}

type RemovalPlan struct {
	// Remove lists the installed packages to remove.  A package is always listed before the
	// packages it depends on.
	Remove       []PackageId
	Protected    []ProtectedDependent
	BrokenCycles []Edge[PackageId]
}

// Reverse dependencies of these kinds never force a removal.
var removalExcludedKinds = []DependencyKind{Build, Post}

// ResolveRemovalQueue computes the removal queue of installed packages: the seeds and, unless
// opts.Shallow is set, every installed package that transitively depends on them.  Protected system
// packages are never pulled in.  A protected seed fails the resolution with a
// [*DependenciesNotRemovableError].
func (r *Resolver) ResolveRemovalQueue(ctx context.Context, ids []PackageId, opts RemovalOptions) (*RemovalPlan, error) {
	return r.newResolution().resolveRemoval(ctx, ids, opts)
}

type remover struct {
	res       *resolution
	g         *Graph[PackageId]
	stack     Lifo[PackageId]
	visited   mapset.Set[PackageId]
	protected map[PackageId]bool
}

func (res *resolution) resolveRemoval(ctx context.Context, ids []PackageId, opts RemovalOptions) (*RemovalPlan, error) {
	rm := &remover{
		res:       res,
		g:         NewGraph(res.compareInstalledByAtom),
		visited:   mapset.NewThreadUnsafeSet[PackageId](),
		protected: map[PackageId]bool{},
	}
	var notRemovable []PackageId
	for _, id := range ids {
		if _, err := res.atom(ctx, Installed(id)); err != nil {
			return nil, err
		}
		p, err := rm.isProtected(ctx, id)
		if err != nil {
			return nil, err
		}
		if p {
			notRemovable = append(notRemovable, id)
		}
		rm.g.ensure(id)
	}
	if len(notRemovable) > 0 {
		return nil, &DependenciesNotRemovableError{Ids: notRemovable}
	}
	plan := &RemovalPlan{}
	for _, id := range slices.Backward(ids) {
		rm.stack.Push(id)
	}
	for {
		id, ok := rm.stack.Pop()
		if !ok {
			break
		}
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		if !rm.visited.Add(id) || opts.Shallow {
			continue
		}
		rds, err := res.reverseDependencies(ctx, Installed(id), removalExcludedKinds)
		if err != nil {
			return nil, err
		}
		for _, rd := range rds {
			if rd.Id() == id {
				continue
			}
			if _, err := res.atom(ctx, rd); err != nil {
				return nil, err
			}
			p, err := rm.isProtected(ctx, rd.Id())
			if err != nil {
				return nil, err
			}
			if p {
				slog.Log(ctx, logging.LevelNotice, "protected package depends on a package being removed",
					"dependent", res.atoms[rd], "dependency", res.atoms[Installed(id)])
				plan.Protected = append(plan.Protected, ProtectedDependent{Dependent: rd.Id(), Dependency: id})
				continue
			}
			rm.g.AddEdge(rd.Id(), id)
			rm.stack.Push(rd.Id())
		}
	}
	if opts.Deep && !opts.Shallow {
		if err := rm.sweepOrphans(ctx); err != nil {
			return nil, err
		}
	}
	order, broken := rm.g.Order()
	slices.Reverse(order)
	plan.Remove = order
	plan.BrokenCycles = broken
	slices.SortFunc(plan.Protected, func(a, b ProtectedDependent) int {
		if c := cmp.Compare(a.Dependent, b.Dependent); c != 0 {
			return c
		}
		return cmp.Compare(a.Dependency, b.Dependency)
	})
	plan.Protected = slices.Compact(plan.Protected)
	slog.DebugContext(ctx, "removal queue resolved", "remove", len(plan.Remove), "protected", len(plan.Protected))
	return plan, nil
}

// isProtected reports whether an installed package is a system package that is the only installed
// package of its key.
func (rm *remover) isProtected(ctx context.Context, id PackageId) (bool, error) {
	if p, ok := rm.protected[id]; ok {
		return p, nil
	}
	m := Installed(id)
	sys, err := rm.res.isSystem(ctx, m)
	if err != nil {
		return false, err
	}
	if sys {
		ks, err := rm.res.keySlot(ctx, m)
		if err != nil {
			return false, err
		}
		same, err := rm.res.matchInstalled(ctx, Atom{Key: ks.Key})
		if err != nil {
			return false, err
		}
		sys = len(same) < 2
	}
	rm.protected[id] = sys
	return sys, nil
}

// sweepOrphans adds the installed dependencies of queued packages whose reverse dependencies are
// all queued as well, until nothing changes.
func (rm *remover) sweepOrphans(ctx context.Context) error {
	for {
		added := false
		for _, id := range slices.Collect(rm.g.Nodes()) {
			if err := context.Cause(ctx); err != nil {
				return err
			}
			deps, err := rm.res.installedDependencies(ctx, Installed(id))
			if err != nil {
				return err
			}
			for _, dep := range deps {
				if rm.g.Has(dep) {
					continue
				}
				rds, orphan, err := rm.orphaned(ctx, dep)
				if err != nil {
					return err
				}
				if !orphan {
					continue
				}
				slog.DebugContext(ctx, "orphaned dependency", "package", dep, "of", id)
				rm.g.ensure(dep)
				for _, rd := range rds {
					rm.g.AddEdge(rd, dep)
				}
				added = true
			}
		}
		if !added {
			return nil
		}
	}
}

// orphaned reports whether every reverse dependency of the installed package is queued, and
// returns them.
func (rm *remover) orphaned(ctx context.Context, id PackageId) ([]PackageId, bool, error) {
	if _, err := rm.res.atom(ctx, Installed(id)); err != nil {
		return nil, false, err
	}
	p, err := rm.isProtected(ctx, id)
	if err != nil || p {
		return nil, false, err
	}
	rds, err := rm.res.reverseDependencies(ctx, Installed(id), removalExcludedKinds)
	if err != nil {
		return nil, false, err
	}
	var queued []PackageId
	for _, rd := range rds {
		if rd.Id() == id {
			continue
		}
		if !rm.g.Has(rd.Id()) {
			return nil, false, nil
		}
		queued = append(queued, rd.Id())
	}
	return queued, true, nil
}

// installedDependencies returns the installed packages matching the plain runtime dependencies of
// an installed package.
func (res *resolution) installedDependencies(ctx context.Context, m PackageMatch) ([]PackageId, error) {
	deps, err := res.dependencies(ctx, m, false)
	if err != nil {
		return nil, err
	}
	var ids []PackageId
	for _, d := range deps {
		if d.Kind != Runtime {
			continue
		}
		expr, err := res.parseDependency(d.Atom)
		if err != nil {
			continue
		}
		for a := range expr.Atoms() {
			if a.Blocker {
				continue
			}
			inst, err := res.matchInstalled(ctx, a)
			if err != nil {
				return nil, err
			}
			for _, i := range inst {
				ids = append(ids, i.Id())
			}
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (res *resolution) compareInstalledByAtom(a, b PackageId) int {
	return res.compareByAtom(Installed(a), Installed(b))
}
