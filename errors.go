package pkgqueue

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rhansen/pkgqueue/internal/itertools"
)

// Error kinds.  Use [errors.Is] to branch on the kind of a returned error and [errors.As] to get
// at its details.
var (
	ErrNotFound              = errors.New("no package matches")
	ErrAllMasked             = errors.New("all matching packages are masked")
	ErrDependenciesNotFound  = errors.New("dependencies not found")
	ErrDependenciesCollision = errors.New("dependencies collide")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
	ErrNotRemovable          = errors.New("packages are not removable")
)

// NotFoundError is returned when an atom matches no package in the requested scope.  Err is set
// when the atom or package match could not be used at all, for example because it does not parse.
type NotFoundError struct {
	Atom string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrNotFound, e.Atom, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrNotFound, e.Atom)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AllMaskedError is returned when every package matching an atom is masked.
type AllMaskedError struct {
	Atom  string
	Masks map[PackageMatch]Mask
}

func (e *AllMaskedError) Error() string {
	reasons := slices.Sorted(itertools.Map(maps.Values(e.Masks), func(m Mask) string { return m.String() }))
	return fmt.Sprintf("%v: %s (%s)", ErrAllMasked, e.Atom, strings.Join(slices.Compact(reasons), "; "))
}

func (e *AllMaskedError) Is(target error) bool { return target == ErrAllMasked }

// DependenciesNotFoundError carries every dependency that could not be resolved.
type DependenciesNotFoundError struct {
	Missing []string
}

func (e *DependenciesNotFoundError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDependenciesNotFound, strings.Join(e.Missing, ", "))
}

func (e *DependenciesNotFoundError) Is(target error) bool { return target == ErrDependenciesNotFound }

// A Collision is a group of packages competing for the same KeySlot.
type Collision struct {
	KeySlot KeySlot
	Matches []PackageMatch
	// Requirers maps each colliding match to the packages that pulled it in.  Seeds have no
	// requirers.
	Requirers map[PackageMatch][]PackageMatch
}

// DependenciesCollisionError carries every collision group found while building the graph.
type DependenciesCollisionError struct {
	Collisions []Collision
}

func (e *DependenciesCollisionError) Error() string {
	groups := make([]string, 0, len(e.Collisions))
	for _, c := range e.Collisions {
		groups = append(groups, fmt.Sprintf("%v {%s}", c.KeySlot,
			strings.Join(slices.Collect(itertools.Stringify(slices.Values(c.Matches))), ", ")))
	}
	return fmt.Sprintf("%v: %s", ErrDependenciesCollision, strings.Join(groups, "; "))
}

func (e *DependenciesCollisionError) Is(target error) bool {
	return target == ErrDependenciesCollision
}

// RepositoryUnavailableError wraps a failure of a [Repository] method.
type RepositoryUnavailableError struct {
	Repository string
	Err        error
}

func (e *RepositoryUnavailableError) Error() string {
	return fmt.Sprintf("repository %q unavailable: %v", e.Repository, e.Err)
}

func (e *RepositoryUnavailableError) Unwrap() error { return e.Err }

func (e *RepositoryUnavailableError) Is(target error) bool {
	return target == ErrRepositoryUnavailable
}

// DependenciesNotRemovableError is returned when a removal seed is a protected system package.
type DependenciesNotRemovableError struct {
	Ids []PackageId
}

func (e *DependenciesNotRemovableError) Error() string {
	ids := slices.Collect(itertools.Map(slices.Values(e.Ids), func(id PackageId) string {
		return fmt.Sprint(int(id))
	}))
	return fmt.Sprintf("%v: system packages %s", ErrNotRemovable, strings.Join(ids, ", "))
}

func (e *DependenciesNotRemovableError) Is(target error) bool { return target == ErrNotRemovable }
