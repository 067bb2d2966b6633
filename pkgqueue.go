// Package pkgqueue resolves package dependencies and computes install and removal queues for a
// binary package manager.
//
// # Quick Start
//
// (The following is also available as a package-level example.)
//
// Implement [Repository] over the installed-packages database and every remote repository, then
// construct a [Resolver] with the repository priority order:
//
//	r, err := pkgqueue.NewResolver(installed, []pkgqueue.Repository{main, extra},
//		pkgqueue.Settings{Repositories: []string{"main", "extra"}})
//	if err != nil {
//		return err
//	}
//
// Resolve the install queue of some atoms:
//
//	plan, err := r.ResolveInstallQueue(ctx, []string{"app-misc/foo"}, pkgqueue.GraphOptions{})
//	if err != nil {
//		return err
//	}
//
// plan.Install lists the packages to install, dependencies first, and plan.Remove the installed
// packages that must go because something being installed conflicts with them.
//
// # Atoms
//
// An atom names a package, optionally constrained:
//
//	[!][op]category/name[-version[*]][:slot][#tag][@repo,...]
//
// See [ParseAtom].  A dependency string is either an atom or an OR group; see [ParseDependency].
//
// # Resolution
//
// Every public method of [Resolver] works on its own snapshot of memoized repository answers, which
// is discarded when the method returns.  Resolution is single-threaded and never modifies a
// repository.  Repositories must not change while a call is running.
//
// Matching ([Resolver.AtomMatch]) picks the best visible version.  Versioning (version, then tag,
// then revision) wins first, then repository priority.  A masked-only result is reported as
// [ErrAllMasked], distinct from [ErrNotFound].
//
// [Resolver.BuildDependencyGraph] walks forward dependencies from seed packages and accumulates
// missing dependencies and KeySlot collisions instead of stopping at the first one.
// [Resolver.ResolveInstallQueue] turns that graph into an ordered queue and fails with
// [ErrDependenciesNotFound] or [ErrDependenciesCollision] carrying every problem at once.
// [Resolver.ResolveRemovalQueue] walks reverse dependencies of installed packages and never pulls
// in protected system packages.
//
// # Cycles
//
// Dependency cycles are legal.  [Graph.SolveNodes] orders them by ignoring one deterministic edge
// per cycle and reports the ignored edges, which callers may show as warnings.
package pkgqueue
