package pkgqueue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// A Resolver answers matching and queue questions over one installed repository and any number of
// remote repositories.  It holds no mutable state: every call builds its own short-lived
// resolution context, so a Resolver may be shared between goroutines as long as the repositories
// do not change underneath it.
type Resolver struct {
	installed Repository
	repos     []Repository
	byId      map[string]Repository
	settings  Settings
	system    []Atom
}

// NewResolver returns a [Resolver].  The remote repositories are ranked according to
// [Settings.Repositories].
func NewResolver(installed Repository, repos []Repository, settings Settings) (*Resolver, error) {
	if installed == nil {
		return nil, fmt.Errorf("no installed-packages repository")
	}
	r := &Resolver{
		installed: installed,
		byId:      map[string]Repository{},
		settings:  settings,
	}
	for _, repo := range repos {
		id := repo.Id()
		if id == "" {
			return nil, fmt.Errorf("repository with an empty id")
		}
		if _, dup := r.byId[id]; dup {
			return nil, fmt.Errorf("duplicate repository id %q", id)
		}
		r.byId[id] = repo
		r.repos = append(r.repos, repo)
	}
	rank := func(id string) int {
		if i := slices.Index(settings.Repositories, id); i >= 0 {
			return i
		}
		return len(settings.Repositories)
	}
	slices.SortStableFunc(r.repos, func(a, b Repository) int {
		if c := cmp.Compare(rank(a.Id()), rank(b.Id())); c != 0 {
			return c
		}
		return strings.Compare(a.Id(), b.Id())
	})
	for _, s := range settings.SystemPackages {
		a, err := ParseAtom(s)
		if err != nil {
			return nil, fmt.Errorf("invalid system package: %w", err)
		}
		r.system = append(r.system, a)
	}
	return r, nil
}

// Repositories returns the remote repository ids by decreasing priority.
func (r *Resolver) Repositories() []string {
	ids := make([]string, 0, len(r.repos))
	for _, repo := range r.repos {
		ids = append(ids, repo.Id())
	}
	return ids
}

// RetrieveAtom returns the atom string of a match, e.g. for display.
func (r *Resolver) RetrieveAtom(ctx context.Context, m PackageMatch) (string, error) {
	return r.newResolution().atom(ctx, m)
}

type depsKey struct {
	m        PackageMatch
	extended bool
}

type matchKey struct {
	repo      string
	installed bool
	atom      string
	slot      string
}

type parsedExpr struct {
	expr DependencyExpr
	err  error
}

// A resolution memoizes repository answers for the duration of one public call.  It is never
// shared between calls or goroutines.
type resolution struct {
	r           *Resolver
	atoms       map[PackageMatch]string
	keys        map[PackageMatch]string
	keySlots    map[PackageMatch]KeySlot
	versionings map[PackageMatch]Versioning
	deps        map[depsKey][]Dependency
	conflicts   map[PackageMatch][]string
	system      map[PackageMatch]bool
	masks       map[PackageMatch]maskState
	matches     map[matchKey][]PackageId
	exprs       map[string]parsedExpr
}

func (r *Resolver) newResolution() *resolution {
	return &resolution{
		r:           r,
		atoms:       map[PackageMatch]string{},
		keys:        map[PackageMatch]string{},
		keySlots:    map[PackageMatch]KeySlot{},
		versionings: map[PackageMatch]Versioning{},
		deps:        map[depsKey][]Dependency{},
		conflicts:   map[PackageMatch][]string{},
		system:      map[PackageMatch]bool{},
		masks:       map[PackageMatch]maskState{},
		matches:     map[matchKey][]PackageId{},
		exprs:       map[string]parsedExpr{},
	}
}

func (res *resolution) repo(m PackageMatch) (Repository, error) {
	if m.IsInstalled() {
		return res.r.installed, nil
	}
	repo, ok := res.r.byId[m.repo]
	if !ok {
		return nil, &RepositoryUnavailableError{Repository: m.repo, Err: errors.New("not configured")}
	}
	return repo, nil
}

func (res *resolution) match(repo Repository, id PackageId) PackageMatch {
	if repo == res.r.installed {
		return Installed(id)
	}
	return Remote(id, repo.Id())
}

// unavailable wraps a repository failure.  Context errors are passed through untouched.
func unavailable(repo Repository, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrRepositoryUnavailable) {
		return err
	}
	return &RepositoryUnavailableError{Repository: repo.Id(), Err: err}
}

// memo looks m up in cache and otherwise loads it from the repository of m.
func memo[K comparable, V any](res *resolution, cache map[K]V, k K, m PackageMatch,
	load func(repo Repository, id PackageId) (V, error)) (V, error) {

	if v, ok := cache[k]; ok {
		return v, nil
	}
	repo, err := res.repo(m)
	if err != nil {
		return *new(V), err
	}
	v, err := load(repo, m.Id())
	if err != nil {
		return *new(V), unavailable(repo, err)
	}
	cache[k] = v
	return v, nil
}

func (res *resolution) atom(ctx context.Context, m PackageMatch) (string, error) {
	return memo(res, res.atoms, m, m, func(repo Repository, id PackageId) (string, error) {
		return repo.RetrieveAtom(ctx, id)
	})
}

// key returns the category/name of a package, taken from its atom.
func (res *resolution) key(ctx context.Context, m PackageMatch) (string, error) {
	if k, ok := res.keys[m]; ok {
		return k, nil
	}
	s, err := res.atom(ctx, m)
	if err != nil {
		return "", err
	}
	a, err := ParseAtom(s)
	if err != nil {
		// A package whose own atom does not parse still has a usable identity.
		res.keys[m] = s
		return s, nil
	}
	res.keys[m] = a.Key
	return a.Key, nil
}

func (res *resolution) keySlot(ctx context.Context, m PackageMatch) (KeySlot, error) {
	return memo(res, res.keySlots, m, m, func(repo Repository, id PackageId) (KeySlot, error) {
		return repo.RetrieveKeySlot(ctx, id)
	})
}

func (res *resolution) versioning(ctx context.Context, m PackageMatch) (Versioning, error) {
	return memo(res, res.versionings, m, m, func(repo Repository, id PackageId) (Versioning, error) {
		return repo.RetrieveVersioning(ctx, id)
	})
}

func (res *resolution) dependencies(ctx context.Context, m PackageMatch, extended bool) ([]Dependency, error) {
	return memo(res, res.deps, depsKey{m, extended}, m, func(repo Repository, id PackageId) ([]Dependency, error) {
		return repo.RetrieveDependencies(ctx, id, extended)
	})
}

func (res *resolution) conflictAtoms(ctx context.Context, m PackageMatch) ([]string, error) {
	return memo(res, res.conflicts, m, m, func(repo Repository, id PackageId) ([]string, error) {
		return repo.RetrieveConflicts(ctx, id)
	})
}

// isSystem reports whether the package is flagged as a system package by its repository or
// matches one of the configured system package atoms.
func (res *resolution) isSystem(ctx context.Context, m PackageMatch) (bool, error) {
	return memo(res, res.system, m, m, func(repo Repository, id PackageId) (bool, error) {
		sys, err := repo.IsSystemPackage(ctx, id)
		if err != nil || sys || len(res.r.system) == 0 {
			return sys, err
		}
		key, err := res.key(ctx, m)
		if err != nil {
			return false, err
		}
		ks, err := res.keySlot(ctx, m)
		if err != nil {
			return false, err
		}
		v, err := res.versioning(ctx, m)
		if err != nil {
			return false, err
		}
		return slices.ContainsFunc(res.r.system, func(a Atom) bool {
			return a.Matches(key, ks.Slot, v)
		}), nil
	})
}

func (res *resolution) repoMatch(ctx context.Context, repo Repository, a Atom, slot string) ([]PackageId, error) {
	k := matchKey{repo: repo.Id(), installed: repo == res.r.installed, atom: a.String(), slot: slot}
	if ids, ok := res.matches[k]; ok {
		return ids, nil
	}
	ids, err := repo.AtomMatch(ctx, a, slot)
	if err != nil {
		return nil, unavailable(repo, err)
	}
	res.matches[k] = ids
	return ids, nil
}

func (res *resolution) parseDependency(s string) (DependencyExpr, error) {
	if p, ok := res.exprs[s]; ok {
		return p.expr, p.err
	}
	e, err := ParseDependency(s)
	res.exprs[s] = parsedExpr{e, err}
	return e, err
}

// compareByAtom orders matches by atom string, then by [PackageMatchCompare].  Atoms must have
// been loaded already.
func (res *resolution) compareByAtom(a, b PackageMatch) int {
	if c := strings.Compare(res.atoms[a], res.atoms[b]); c != 0 {
		return c
	}
	return PackageMatchCompare(a, b)
}
