package pkgqueue

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/pkgqueue/internal/logging"
)

// An OrStrategy picks the branch of an OR dependency group.
type OrStrategy int

const (
	// OrFirst picks the first branch entirely satisfied by installed packages, otherwise the first
	// branch.
	OrFirst OrStrategy = iota
	// OrSat picks branches by minimizing the number of packages to install across the whole
	// request with a pseudo-boolean solver.  It falls back to OrFirst when no selection satisfies
	// every constraint.
	OrSat
)

func (s OrStrategy) String() string {
	switch s {
	case OrFirst:
		return "first"
	case OrSat:
		return "sat"
	}
	return fmt.Sprintf("OrStrategy(%d)", int(s))
}

func ParseOrStrategy(s string) (OrStrategy, error) {
	switch strings.ToLower(s) {
	case "", "first":
		return OrFirst, nil
	case "sat":
		return OrSat, nil
	}
	return 0, fmt.Errorf("invalid OR strategy %q; expected one of: first, sat", s)
}

// GraphOptions controls [Resolver.BuildDependencyGraph] and [Resolver.ResolveInstallQueue].
type GraphOptions struct {
	// Empty ignores installed packages: every dependency is pulled in and nothing already
	// installed is skipped.
	Empty bool
	// Deep compares installed dependencies against the repositories even when Relaxed is set, and
	// re-queues installed packages whose dependencies would no longer be satisfied by a package
	// being replaced.
	Deep bool
	// Relaxed accepts any installed match of a dependency and lets the first package chosen for a
	// KeySlot win instead of recording a collision.
	Relaxed bool
	// BuildDeps includes build dependencies.
	BuildDeps bool
	// Shallow expands only the seeds: their direct dependencies are queued but not walked.
	Shallow bool
	// OnlyDeps leaves the seeds out of the install queue unless another queued package depends
	// on them.  A seed atom whose packages are all masked still matches.  The dependency graph
	// itself still holds the seeds.
	OnlyDeps   bool
	OrStrategy OrStrategy
}

// A DependencyGraph is the result of [Resolver.BuildDependencyGraph].  Edges point from a package
// to the packages that must be installed before it.  Nodes are packages to install; dependencies
// already satisfied by installed packages are not part of it.
type DependencyGraph struct {
	*Graph[PackageMatch]
	Seeds []PackageMatch
	// Missing holds every dependency that could not be resolved, sorted.
	Missing []string
	// Collisions holds every KeySlot claimed by more than one node.
	Collisions []Collision
	// Obsoletes holds installed packages that nodes of the graph conflict with.
	Obsoletes []PackageId

	atoms     map[PackageMatch]string
	keySlots  map[PackageMatch]KeySlot
	requirers map[PackageMatch][]PackageMatch
}

// Atom returns the atom string of a node.
func (dg *DependencyGraph) Atom(m PackageMatch) string { return dg.atoms[m] }

// KeySlot returns the KeySlot of a node.
func (dg *DependencyGraph) KeySlot(m PackageMatch) KeySlot { return dg.keySlots[m] }

// Requirers returns the nodes whose dependencies pulled m into the graph, sorted.  Seeds nobody
// depends on have none.
func (dg *DependencyGraph) Requirers(m PackageMatch) []PackageMatch { return dg.requirers[m] }

// BuildDependencyGraph walks the dependencies of the seeds.  Unresolvable dependencies and KeySlot
// collisions are accumulated in the result rather than failing the walk; errors are only returned
// for repository failures and cancellation.
func (r *Resolver) BuildDependencyGraph(ctx context.Context, seeds []PackageMatch, opts GraphOptions) (*DependencyGraph, error) {
	return r.newResolution().buildGraph(ctx, seeds, opts)
}

type orKey struct {
	m   PackageMatch
	dep string
}

type builder struct {
	res        *resolution
	opts       GraphOptions
	g          *Graph[PackageMatch]
	stack      Lifo[PackageMatch]
	visited    mapset.Set[PackageMatch]
	decided    map[KeySlot]PackageMatch
	collisions map[KeySlot]mapset.Set[PackageMatch]
	requirers  map[PackageMatch]mapset.Set[PackageMatch]
	missing    mapset.Set[string]
	obsoletes  mapset.Set[PackageId]
	orChoice   map[orKey]int
}

func (res *resolution) buildGraph(ctx context.Context, seeds []PackageMatch, opts GraphOptions) (*DependencyGraph, error) {
	b := &builder{
		res:        res,
		opts:       opts,
		g:          NewGraph(res.compareByAtom),
		visited:    mapset.NewThreadUnsafeSet[PackageMatch](),
		decided:    map[KeySlot]PackageMatch{},
		collisions: map[KeySlot]mapset.Set[PackageMatch]{},
		requirers:  map[PackageMatch]mapset.Set[PackageMatch]{},
		missing:    mapset.NewThreadUnsafeSet[string](),
		obsoletes:  mapset.NewThreadUnsafeSet[PackageId](),
		orChoice:   map[orKey]int{},
	}
	slog.DebugContext(ctx, "building dependency graph", "seeds", seeds, "options", opts)
	var registered []PackageMatch
	for _, s := range seeds {
		m, err := b.register(ctx, s, nil)
		if err != nil {
			return nil, err
		}
		b.g.ensure(m)
		registered = append(registered, m)
	}
	if opts.OrStrategy == OrSat {
		choice, err := res.solveOr(ctx, registered, opts)
		if err != nil {
			return nil, err
		}
		b.orChoice = choice
	}
	for _, m := range slices.Backward(registered) {
		b.stack.Push(m)
	}
	for {
		m, ok := b.stack.Pop()
		if !ok {
			break
		}
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		if !b.visited.Add(m) {
			continue
		}
		if err := b.expand(ctx, m); err != nil {
			return nil, err
		}
	}
	dg := &DependencyGraph{
		Graph:     b.g,
		Seeds:     registered,
		Missing:   slices.Sorted(mapset.Elements(b.missing)),
		Obsoletes: slices.Sorted(mapset.Elements(b.obsoletes)),
		atoms:     map[PackageMatch]string{},
		keySlots:  map[PackageMatch]KeySlot{},
		requirers: map[PackageMatch][]PackageMatch{},
	}
	for n := range b.g.Nodes() {
		dg.atoms[n] = res.atoms[n]
		dg.keySlots[n] = res.keySlots[n]
		if reqs, ok := b.requirers[n]; ok {
			dg.requirers[n] = slices.SortedFunc(mapset.Elements(reqs), res.compareByAtom)
		}
	}
	for _, ks := range slices.SortedFunc(maps.Keys(b.collisions), KeySlotCompare) {
		c := Collision{
			KeySlot:   ks,
			Matches:   slices.SortedFunc(mapset.Elements(b.collisions[ks]), res.compareByAtom),
			Requirers: map[PackageMatch][]PackageMatch{},
		}
		for _, m := range c.Matches {
			if reqs := dg.requirers[m]; len(reqs) > 0 {
				c.Requirers[m] = reqs
			}
		}
		dg.Collisions = append(dg.Collisions, c)
	}
	slog.DebugContext(ctx, "dependency graph built", "nodes", b.g.Len(), "missing", len(dg.Missing),
		"collisions", len(dg.Collisions), "obsoletes", len(dg.Obsoletes))
	return dg, nil
}

// register decides m for its KeySlot.  In relaxed mode a KeySlot that is already decided keeps its
// package and that package is returned instead of m, provided it satisfies want (the atom m was
// resolved from, nil for seeds).  Otherwise a different package for a decided KeySlot is recorded
// as a collision.
func (b *builder) register(ctx context.Context, m PackageMatch, want *Atom) (PackageMatch, error) {
	if _, err := b.res.atom(ctx, m); err != nil {
		return PackageMatch{}, err
	}
	ks, err := b.res.keySlot(ctx, m)
	if err != nil {
		return PackageMatch{}, err
	}
	prev, ok := b.decided[ks]
	keep := false
	if ok && prev != m && b.opts.Relaxed {
		if keep, err = b.res.satisfies(ctx, prev, want); err != nil {
			return PackageMatch{}, err
		}
	}
	switch {
	case !ok:
		b.decided[ks] = m
	case prev == m:
	case keep:
		slog.DebugContext(ctx, "keyslot already decided", "keyslot", ks, "kept", prev, "dropped", m)
		return prev, nil
	default:
		set, ok := b.collisions[ks]
		if !ok {
			set = mapset.NewThreadUnsafeSet(prev)
			b.collisions[ks] = set
		}
		set.Add(m)
	}
	return m, nil
}

// satisfies reports whether m is acceptable for the atom.  A nil atom accepts anything.
func (res *resolution) satisfies(ctx context.Context, m PackageMatch, a *Atom) (bool, error) {
	if a == nil {
		return true, nil
	}
	ks, err := res.keySlot(ctx, m)
	if err != nil {
		return false, err
	}
	v, err := res.versioning(ctx, m)
	if err != nil {
		return false, err
	}
	return a.Matches(ks.Key, ks.Slot, v), nil
}

func (b *builder) expand(ctx context.Context, m PackageMatch) error {
	slog.Log(ctx, logging.LevelTrace, "expanding package", "package", m, "atom", b.res.atoms[m])
	ks, err := b.res.keySlot(ctx, m)
	if err != nil {
		return err
	}
	conflicts, err := b.res.conflictAtoms(ctx, m)
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		if err := b.conflict(ctx, m, ks, c); err != nil {
			return err
		}
	}
	deps, err := b.res.dependencies(ctx, m, b.opts.BuildDeps)
	if err != nil {
		return err
	}
	for _, d := range deps {
		if err := b.dependency(ctx, m, ks, d); err != nil {
			return err
		}
	}
	if b.opts.Deep && !m.IsInstalled() {
		return b.requeueBroken(ctx, m, ks)
	}
	return nil
}

func (b *builder) dependency(ctx context.Context, m PackageMatch, ks KeySlot, d Dependency) error {
	switch d.Kind {
	case Build:
		if !b.opts.BuildDeps {
			return nil
		}
	case Conflict:
		return b.conflict(ctx, m, ks, d.Atom)
	}
	expr, err := b.res.parseDependency(d.Atom)
	if err != nil {
		slog.WarnContext(ctx, "unparsable dependency", "package", m, "dependency", d, "error", err)
		if d.Kind != Post {
			b.missing.Add(d.Atom)
		}
		return nil
	}
	branch, err := b.selectBranch(ctx, m, d.Atom, expr)
	if err != nil {
		return err
	}
	for _, a := range branch {
		if a.Blocker {
			if err := b.conflictAtom(ctx, ks, a); err != nil {
				return err
			}
			continue
		}
		child, found, err := b.resolve(ctx, a)
		switch {
		case err != nil:
			return err
		case !found:
			// Missing post dependencies do not prevent the installation.
			if d.Kind != Post {
				b.missing.Add(a.String())
			}
			continue
		case !child.IsValid() || child == m:
			continue
		}
		b.require(child, m)
		if d.Kind == Post {
			b.g.AddEdge(child, m)
		} else {
			b.g.AddEdge(m, child)
		}
		if !b.opts.Shallow {
			b.stack.Push(child)
		}
	}
	return nil
}

// resolve returns the package that must be installed for the atom, the zero PackageMatch if the
// atom is already satisfied, or found == false if nothing can satisfy it.
func (b *builder) resolve(ctx context.Context, a Atom) (_ PackageMatch, found bool, _ error) {
	if !b.opts.Empty {
		sat, err := b.res.satisfied(ctx, a, b.opts)
		if err != nil || sat {
			return PackageMatch{}, sat, err
		}
	}
	mr, err := b.res.matchAtom(ctx, a, MatchOptions{})
	if isMatchFailure(err) {
		return PackageMatch{}, false, nil
	} else if err != nil {
		return PackageMatch{}, false, err
	}
	m, err := b.register(ctx, mr.Best(), &a)
	return m, err == nil, err
}

// require records that by needs m.
func (b *builder) require(m, by PackageMatch) {
	set, ok := b.requirers[m]
	if !ok {
		set = mapset.NewThreadUnsafeSet[PackageMatch]()
		b.requirers[m] = set
	}
	set.Add(by)
}

// satisfied reports whether the installed packages already satisfy the atom.  An installed match
// satisfies it in relaxed (not deep) mode, when no repository offers the atom, or when it is the
// same KeySlot and versioning as the best repository candidate.
func (res *resolution) satisfied(ctx context.Context, a Atom, opts GraphOptions) (bool, error) {
	inst, err := res.matchInstalled(ctx, a)
	if err != nil || len(inst) == 0 {
		return false, err
	}
	if opts.Relaxed && !opts.Deep {
		return true, nil
	}
	mr, err := res.matchAtom(ctx, a, MatchOptions{})
	if isMatchFailure(err) {
		return true, nil
	} else if err != nil {
		return false, err
	}
	best := mr.Best()
	bks, err := res.keySlot(ctx, best)
	if err != nil {
		return false, err
	}
	bv, err := res.versioning(ctx, best)
	if err != nil {
		return false, err
	}
	for _, i := range inst {
		iks, err := res.keySlot(ctx, i)
		if err != nil {
			return false, err
		}
		iv, err := res.versioning(ctx, i)
		if err != nil {
			return false, err
		}
		if iks == bks && iv == bv {
			return true, nil
		}
	}
	return false, nil
}

func (b *builder) conflict(ctx context.Context, m PackageMatch, ks KeySlot, s string) error {
	a, err := ParseAtom(s)
	if err != nil {
		slog.WarnContext(ctx, "unparsable conflict", "package", m, "conflict", s, "error", err)
		return nil
	}
	return b.conflictAtom(ctx, ks, a)
}

// conflictAtom marks installed packages matching the conflict for removal, unless they occupy the
// KeySlot of the package declaring the conflict, which replaces them anyway.
func (b *builder) conflictAtom(ctx context.Context, ks KeySlot, a Atom) error {
	a.Blocker = false
	inst, err := b.res.matchInstalled(ctx, a)
	if err != nil {
		return err
	}
	for _, i := range inst {
		iks, err := b.res.keySlot(ctx, i)
		if err != nil {
			return err
		}
		if iks != ks {
			b.obsoletes.Add(i.Id())
		}
	}
	return nil
}

// requeueBroken finds installed packages whose dependencies match the installed package m replaces
// but not m itself, and queues their best repository version after m.
func (b *builder) requeueBroken(ctx context.Context, m PackageMatch, ks KeySlot) error {
	key, err := b.res.key(ctx, m)
	if err != nil {
		return err
	}
	v, err := b.res.versioning(ctx, m)
	if err != nil {
		return err
	}
	olds, err := b.res.matchInstalled(ctx, Atom{Key: ks.Key, Slot: ks.Slot})
	if err != nil {
		return err
	}
	for _, old := range olds {
		ov, err := b.res.versioning(ctx, old)
		if err != nil {
			return err
		}
		if ov == v {
			continue
		}
		rds, err := b.res.reverseDependencies(ctx, old, []DependencyKind{Build})
		if err != nil {
			return err
		}
		for _, rd := range rds {
			broken, err := b.brokenBy(ctx, rd, key, ks.Slot, v)
			if err != nil {
				return err
			}
			if !broken {
				continue
			}
			repl, err := b.replacement(ctx, rd)
			if err != nil {
				return err
			}
			if !repl.IsValid() {
				slog.WarnContext(ctx, "installed package would break and has no replacement",
					"package", rd, "replaced", old)
				continue
			}
			rks, err := b.res.keySlot(ctx, rd)
			if err != nil {
				return err
			}
			child, err := b.register(ctx, repl, &Atom{Key: rks.Key, Slot: rks.Slot})
			if err != nil {
				return err
			}
			slog.DebugContext(ctx, "re-queueing reverse dependency", "package", child, "after", m)
			b.require(child, m)
			b.g.AddEdge(child, m)
			b.stack.Push(child)
		}
	}
	return nil
}

// brokenBy reports whether a plain dependency of the installed package rd names key but would not
// accept the given slot and versioning.
func (b *builder) brokenBy(ctx context.Context, rd PackageMatch, key, slot string, v Versioning) (bool, error) {
	deps, err := b.res.dependencies(ctx, rd, false)
	if err != nil {
		return false, err
	}
	for _, d := range deps {
		if d.Kind == Conflict {
			continue
		}
		expr, err := b.res.parseDependency(d.Atom)
		if err != nil || expr.Or {
			continue
		}
		a := expr.Branches[0][0]
		if !a.Blocker && a.Key == key && !a.Matches(key, slot, v) {
			return true, nil
		}
	}
	return false, nil
}

// replacement returns the best repository package of the installed package's KeySlot, or the zero
// PackageMatch if there is none or it is the very same versioning.
func (b *builder) replacement(ctx context.Context, inst PackageMatch) (PackageMatch, error) {
	ks, err := b.res.keySlot(ctx, inst)
	if err != nil {
		return PackageMatch{}, err
	}
	mr, err := b.res.matchAtom(ctx, Atom{Key: ks.Key}, MatchOptions{Slot: ks.Slot})
	if isMatchFailure(err) {
		return PackageMatch{}, nil
	} else if err != nil {
		return PackageMatch{}, err
	}
	iv, err := b.res.versioning(ctx, inst)
	if err != nil {
		return PackageMatch{}, err
	}
	rv, err := b.res.versioning(ctx, mr.Best())
	if err != nil || rv == iv {
		return PackageMatch{}, err
	}
	return mr.Best(), nil
}

func (res *resolution) reverseDependencies(ctx context.Context, m PackageMatch, exclude []DependencyKind) ([]PackageMatch, error) {
	repo, err := res.repo(m)
	if err != nil {
		return nil, err
	}
	ids, err := repo.RetrieveReverseDependencies(ctx, m.Id(), exclude)
	if err != nil {
		return nil, unavailable(repo, err)
	}
	ms := make([]PackageMatch, 0, len(ids))
	for _, id := range slices.Sorted(slices.Values(ids)) {
		ms = append(ms, res.match(repo, id))
	}
	return ms, nil
}
