package pkgqueue

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/pkgqueue/internal/logging"
)

// An InstallPlan is the outcome of a successful install resolution.
type InstallPlan struct {
	// Install lists the packages to install, dependencies first.  Packages of the same dependency
	// level are ordered by atom.
	Install []PackageMatch
	// Remove lists installed packages that must be removed because something being installed
	// conflicts with them.
	Remove []PackageId
	// BrokenCycles lists the dependency edges that were ignored to order a cycle.  They are
	// informational.
	BrokenCycles []Edge[PackageMatch]
}

// ResolveInstallQueue matches every atom against the remote repositories and resolves the install
// queue of the matches.  Atoms that fail to match are all reported at once in a
// [*DependenciesNotFoundError].
func (r *Resolver) ResolveInstallQueue(ctx context.Context, atoms []string, opts GraphOptions) (*InstallPlan, error) {
	res := r.newResolution()
	var seeds []PackageMatch
	var missing []string
	for _, s := range atoms {
		a, err := ParseAtom(s)
		if err != nil {
			slog.DebugContext(ctx, "invalid atom", "atom", s, "error", err)
			missing = append(missing, s)
			continue
		}
		mr, err := res.matchAtom(ctx, a, MatchOptions{})
		if _, masked := err.(*AllMaskedError); masked && opts.OnlyDeps {
			// Only the dependencies get installed, so a masked seed is acceptable.
			mr, err = res.matchAtom(ctx, a, MatchOptions{AllowMasked: true})
		}
		if isMatchFailure(err) {
			slog.DebugContext(ctx, "atom did not match", "atom", s, "error", err)
			missing = append(missing, s)
			continue
		} else if err != nil {
			return nil, err
		}
		seeds = append(seeds, mr.Best())
	}
	if len(missing) > 0 {
		return nil, &DependenciesNotFoundError{Missing: missing}
	}
	return res.resolveInstall(ctx, seeds, opts)
}

var errInvalidMatch = errors.New("not produced by Installed or Remote")

// ResolveInstallMatches resolves the install queue of already matched packages.  A zero
// PackageMatch fails with a [*NotFoundError].
func (r *Resolver) ResolveInstallMatches(ctx context.Context, matches []PackageMatch, opts GraphOptions) (*InstallPlan, error) {
	return r.newResolution().resolveInstall(ctx, matches, opts)
}

func (res *resolution) resolveInstall(ctx context.Context, matches []PackageMatch, opts GraphOptions) (*InstallPlan, error) {
	var seeds []PackageMatch
	for _, m := range matches {
		keep, err := res.needsInstall(ctx, m, opts)
		if err != nil {
			return nil, err
		}
		if keep {
			seeds = append(seeds, m)
		}
	}
	plan := &InstallPlan{}
	if len(seeds) == 0 {
		return plan, nil
	}
	dg, err := res.buildGraph(ctx, seeds, opts)
	if err != nil {
		return nil, err
	}
	if len(dg.Missing) > 0 {
		return nil, &DependenciesNotFoundError{Missing: dg.Missing}
	}
	if len(dg.Collisions) > 0 {
		return nil, &DependenciesCollisionError{Collisions: dg.Collisions}
	}
	plan.Install, plan.BrokenCycles = dg.Order()
	if opts.OnlyDeps {
		plan.Install = slices.DeleteFunc(plan.Install, func(m PackageMatch) bool {
			return slices.Contains(dg.Seeds, m) && len(dg.Requirers(m)) == 0
		})
	}
	for _, e := range plan.BrokenCycles {
		slog.Log(ctx, logging.LevelNotice, "dependency cycle broken",
			"from", dg.Atom(e.From), "to", dg.Atom(e.To))
	}
	installing := mapset.NewThreadUnsafeSet[KeySlot]()
	for _, m := range plan.Install {
		installing.Add(dg.KeySlot(m))
	}
	for _, id := range dg.Obsoletes {
		ks, err := res.keySlot(ctx, Installed(id))
		if err != nil {
			return nil, err
		}
		if !installing.Contains(ks) {
			plan.Remove = append(plan.Remove, id)
		}
	}
	slog.DebugContext(ctx, "install queue resolved", "install", len(plan.Install), "remove", len(plan.Remove))
	return plan, nil
}

// needsInstall drops installed matches, and unless opts.Empty or opts.OnlyDeps is set, remote
// matches whose KeySlot is installed at the same versioning.
func (res *resolution) needsInstall(ctx context.Context, m PackageMatch, opts GraphOptions) (bool, error) {
	if !m.IsValid() {
		return false, &NotFoundError{Atom: m.String(), Err: errInvalidMatch}
	}
	if m.IsInstalled() {
		return false, nil
	}
	if opts.Empty || opts.OnlyDeps {
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
	inst, err := res.matchInstalled(ctx, Atom{Key: ks.Key, Slot: ks.Slot})
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
		if iks == ks && iv == v {
			slog.DebugContext(ctx, "already installed", "package", m, "installed", i)
			return false, nil
		}
	}
	return true, nil
}

// Contains reports whether the plan installs m.
func (p *InstallPlan) Contains(m PackageMatch) bool {
	return slices.Contains(p.Install, m)
}
