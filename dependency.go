package pkgqueue

import (
	"fmt"
	"strings"
)

// A DependencyKind classifies a dependency edge.
type DependencyKind int

const (
	// Runtime dependencies must be installed before the package.
	Runtime DependencyKind = iota
	// Build dependencies are only pulled in when build dependencies are requested.
	Build
	// Post dependencies are installed after the package that declares them.
	Post
	// Conflict edges are negative constraints.  They never order or pull in anything.
	Conflict
)

var kindStrings = [...]string{"runtime", "build", "post", "conflict"}

func (k DependencyKind) String() string {
	if k < 0 || int(k) >= len(kindStrings) {
		return fmt.Sprintf("DependencyKind(%d)", int(k))
	}
	return kindStrings[k]
}

// ParseDependencyKind is the inverse of [DependencyKind.String].  The empty string is [Runtime].
func ParseDependencyKind(s string) (DependencyKind, error) {
	s = strings.ToLower(s)
	if s == "" {
		return Runtime, nil
	}
	for k, ks := range kindStrings {
		if ks == s {
			return DependencyKind(k), nil
		}
	}
	return 0, fmt.Errorf("invalid dependency kind %q; expected one of: %v", s, strings.Join(kindStrings[:], ", "))
}

// A Dependency is one declared dependency of a package: a dependency string (see
// [ParseDependency]) and its kind.
type Dependency struct {
	Atom string
	Kind DependencyKind
}

func (d Dependency) String() string {
	if d.Kind == Runtime {
		return d.Atom
	}
	return fmt.Sprintf("%s (%v)", d.Atom, d.Kind)
}
