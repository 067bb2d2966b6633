package pkgqueue

import "context"

// A Repository is the read-only query surface of one package database, either the
// installed-packages database or a remote repository.  Implementations must not change while a
// [Resolver] call is using them.  Any returned error is treated as the repository being
// unavailable and aborts the current resolution.
type Repository interface {
	// Id returns the stable repository id.
	Id() string

	RetrieveAtom(ctx context.Context, id PackageId) (string, error)
	RetrieveKeySlot(ctx context.Context, id PackageId) (KeySlot, error)
	RetrieveVersioning(ctx context.Context, id PackageId) (Versioning, error)

	// RetrieveDependencies returns the declared dependencies of a package.  Build dependencies are
	// only returned when extended is true.
	RetrieveDependencies(ctx context.Context, id PackageId, extended bool) ([]Dependency, error)

	// RetrieveConflicts returns the atoms the package cannot coexist with.
	RetrieveConflicts(ctx context.Context, id PackageId) ([]string, error)

	// RetrieveReverseDependencies returns the packages of this repository with a dependency,
	// other than a conflict or one of the excluded kinds, that the given package satisfies.
	RetrieveReverseDependencies(ctx context.Context, id PackageId, exclude []DependencyKind) ([]PackageId, error)

	// AtomMatch returns every package satisfying the atom (see [Atom.Matches]), masked or not.
	// A non-empty slot further restricts the result.  No match is an empty result, not an error.
	AtomMatch(ctx context.Context, atom Atom, slot string) ([]PackageId, error)

	IsSystemPackage(ctx context.Context, id PackageId) (bool, error)

	// RetrieveMask reports whether the package is masked and why.  The reason is an id into
	// [Settings.MaskReasons].
	RetrieveMask(ctx context.Context, id PackageId) (reason int, masked bool, err error)
}

// Settings holds the policy consulted by a [Resolver].
type Settings struct {
	// Repositories lists repository ids by decreasing priority.  Repositories that are not listed
	// rank after the listed ones, ordered by id.
	Repositories []string

	// MaskReasons maps mask reason ids to human readable text.  It is passed through unchanged.
	MaskReasons map[int]string

	// SystemPackages lists atoms of packages that are always protected from removal, in addition
	// to the ones flagged by their repository.
	SystemPackages []string
}
