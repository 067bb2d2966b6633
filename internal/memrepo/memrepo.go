// Package memrepo implements an in-memory [pkgqueue.Repository].  Repositories are populated with
// functional options, which keeps test fixtures short, or loaded from YAML snapshots.
package memrepo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/rhansen/pkgqueue"
	"github.com/rhansen/pkgqueue/internal/itertools"
)

type pkg struct {
	atom       string
	key        string
	keySlot    pkgqueue.KeySlot
	versioning pkgqueue.Versioning
	deps       []pkgqueue.Dependency
	conflicts  []string
	system     bool
	maskReason int
	masked     bool
}

// A Repo is an immutable in-memory repository.  It is safe for concurrent use.
type Repo struct {
	id   string
	pkgs map[pkgqueue.PackageId]*pkg
	ids  []pkgqueue.PackageId
	err  error
}

var _ pkgqueue.Repository = (*Repo)(nil)

// An Option adds content to a [Repo] under construction.
type Option func(*Repo) error

// A PackageOption sets a property of a package added with [Package].
type PackageOption func(*pkg) error

// New constructs a [Repo] with the given id.
func New(id string, opts ...Option) (*Repo, error) {
	r := &Repo{id: id, pkgs: map[pkgqueue.PackageId]*pkg{}}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("repository %q: %w", id, err)
		}
	}
	r.ids = slices.Sorted(maps.Keys(r.pkgs))
	return r, nil
}

// Package adds a package.  The atom must name an exact version, e.g. "app-misc/foo-1.0" or
// "=app-misc/foo-1.0:2#tag"; its slot defaults to "0".
func Package(id pkgqueue.PackageId, atom string, opts ...PackageOption) Option {
	return func(r *Repo) error {
		if _, dup := r.pkgs[id]; dup {
			return fmt.Errorf("duplicate package id %d", id)
		}
		a, err := pkgqueue.ParseAtom(atom)
		if err != nil {
			return err
		}
		if a.Version == "" || a.Op != pkgqueue.OpEqual || a.Glob || a.Blocker || len(a.Repos) > 0 {
			return fmt.Errorf("package %d: atom %q does not name an exact version", id, atom)
		}
		p := &pkg{
			key:        a.Key,
			keySlot:    pkgqueue.KeySlot{Key: a.Key, Slot: cmp.Or(a.Slot, "0")},
			versioning: pkgqueue.Versioning{Version: a.Version, Tag: a.Tag},
		}
		for _, opt := range opts {
			if err := opt(p); err != nil {
				return fmt.Errorf("package %d (%s): %w", id, atom, err)
			}
		}
		p.atom = p.key + "-" + p.versioning.Version
		if p.versioning.Tag != "" {
			p.atom += "#" + p.versioning.Tag
		}
		r.pkgs[id] = p
		return nil
	}
}

// Unavailable makes every query of the repository fail with err.
func Unavailable(err error) Option {
	return func(r *Repo) error {
		r.err = err
		return nil
	}
}

// Slot sets the slot of the package.
func Slot(slot string) PackageOption {
	return func(p *pkg) error {
		if slot == "" {
			return errors.New("empty slot")
		}
		p.keySlot.Slot = slot
		return nil
	}
}

// KeySlot overrides the KeySlot, for packages that replace another package under a different name.
func KeySlot(ks string) PackageOption {
	return func(p *pkg) error {
		p.keySlot = pkgqueue.ParseKeySlot(ks)
		return nil
	}
}

func Tag(tag string) PackageOption {
	return func(p *pkg) error {
		p.versioning.Tag = tag
		return nil
	}
}

// Revision sets the repository revision of the binary build.
func Revision(rev int) PackageOption {
	return func(p *pkg) error {
		p.versioning.Revision = rev
		return nil
	}
}

// Depends adds dependency strings of the given kind.
func Depends(kind pkgqueue.DependencyKind, deps ...string) PackageOption {
	return func(p *pkg) error {
		for _, d := range deps {
			p.deps = append(p.deps, pkgqueue.Dependency{Atom: d, Kind: kind})
		}
		return nil
	}
}

// Runtime adds runtime dependencies.
func Runtime(deps ...string) PackageOption { return Depends(pkgqueue.Runtime, deps...) }

// Conflicts adds conflict atoms.
func Conflicts(atoms ...string) PackageOption {
	return func(p *pkg) error {
		p.conflicts = append(p.conflicts, atoms...)
		return nil
	}
}

// System flags the package as a system package.
func System() PackageOption {
	return func(p *pkg) error {
		p.system = true
		return nil
	}
}

// Masked masks the package with the given reason id.
func Masked(reason int) PackageOption {
	return func(p *pkg) error {
		p.masked = true
		p.maskReason = reason
		return nil
	}
}

func (r *Repo) Id() string { return r.id }

func (r *Repo) get(ctx context.Context, id pkgqueue.PackageId) (*pkg, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.pkgs[id]
	if !ok {
		return nil, fmt.Errorf("no package %d in repository %q", id, r.id)
	}
	return p, nil
}

func (r *Repo) RetrieveAtom(ctx context.Context, id pkgqueue.PackageId) (string, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return "", err
	}
	return p.atom, nil
}

func (r *Repo) RetrieveKeySlot(ctx context.Context, id pkgqueue.PackageId) (pkgqueue.KeySlot, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return pkgqueue.KeySlot{}, err
	}
	return p.keySlot, nil
}

func (r *Repo) RetrieveVersioning(ctx context.Context, id pkgqueue.PackageId) (pkgqueue.Versioning, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return pkgqueue.Versioning{}, err
	}
	return p.versioning, nil
}

func (r *Repo) RetrieveDependencies(ctx context.Context, id pkgqueue.PackageId, extended bool) ([]pkgqueue.Dependency, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if extended {
		return slices.Clone(p.deps), nil
	}
	return slices.DeleteFunc(slices.Clone(p.deps), func(d pkgqueue.Dependency) bool {
		return d.Kind == pkgqueue.Build
	}), nil
}

func (r *Repo) RetrieveConflicts(ctx context.Context, id pkgqueue.PackageId) ([]string, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(p.conflicts), nil
}

func (r *Repo) RetrieveReverseDependencies(ctx context.Context, id pkgqueue.PackageId, exclude []pkgqueue.DependencyKind) ([]pkgqueue.PackageId, error) {
	target, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return slices.Collect(itertools.Filter(slices.Values(r.ids), func(qid pkgqueue.PackageId) bool {
		return qid != id && r.pkgs[qid].dependsOn(target, exclude)
	})), nil
}

func (p *pkg) dependsOn(target *pkg, exclude []pkgqueue.DependencyKind) bool {
	for _, d := range p.deps {
		if d.Kind == pkgqueue.Conflict || slices.Contains(exclude, d.Kind) {
			continue
		}
		expr, err := pkgqueue.ParseDependency(d.Atom)
		if err != nil {
			continue
		}
		for a := range expr.Atoms() {
			if !a.Blocker && target.matches(a, "") {
				return true
			}
		}
	}
	return false
}

func (p *pkg) matches(a pkgqueue.Atom, slot string) bool {
	if slot != "" && p.keySlot.Slot != slot {
		return false
	}
	return a.Matches(p.key, p.keySlot.Slot, p.versioning)
}

func (r *Repo) AtomMatch(ctx context.Context, a pkgqueue.Atom, slot string) ([]pkgqueue.PackageId, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	return slices.Collect(itertools.Filter(slices.Values(r.ids), func(id pkgqueue.PackageId) bool {
		return r.pkgs[id].matches(a, slot)
	})), nil
}

func (r *Repo) IsSystemPackage(ctx context.Context, id pkgqueue.PackageId) (bool, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return false, err
	}
	return p.system, nil
}

func (r *Repo) RetrieveMask(ctx context.Context, id pkgqueue.PackageId) (int, bool, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return p.maskReason, p.masked, nil
}
