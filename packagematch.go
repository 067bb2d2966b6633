package pkgqueue

import (
	"cmp"
	"fmt"
	"strings"
)

// A PackageId identifies a package entity inside one repository.
type PackageId int

// A PackageMatch identifies one package inside one repository: either the installed-packages
// repository or a named remote repository.  Construct values with [Installed] or [Remote].  The
// zero value is not a valid match.
type PackageMatch struct {
	id        PackageId
	repo      string
	installed bool
}

// Installed returns the match of an installed package.
func Installed(id PackageId) PackageMatch {
	return PackageMatch{id: id, installed: true}
}

// Remote returns the match of a package available from the named repository.
func Remote(id PackageId, repo string) PackageMatch {
	if repo == "" {
		panic("pkgqueue: Remote called with an empty repository id")
	}
	return PackageMatch{id: id, repo: repo}
}

// Id returns the package id within its repository.
func (m PackageMatch) Id() PackageId { return m.id }

// Repository returns the remote repository id, or "" and false for an installed package.
func (m PackageMatch) Repository() (string, bool) {
	return m.repo, !m.installed
}

// IsInstalled reports whether the match refers to the installed-packages repository.
func (m PackageMatch) IsInstalled() bool { return m.installed }

// IsValid reports whether m was produced by [Installed] or [Remote].
func (m PackageMatch) IsValid() bool { return m.installed || m.repo != "" }

func (m PackageMatch) String() string {
	if m.installed {
		return fmt.Sprintf("%d@installed", m.id)
	}
	return fmt.Sprintf("%d@%s", m.id, m.repo)
}

// PackageMatchCompare orders installed matches before remote ones, then by repository id, then by
// package id.
func PackageMatchCompare(a, b PackageMatch) int {
	if a.installed != b.installed {
		if a.installed {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.repo, b.repo); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// A KeySlot is the installed-system uniqueness key of a package: at most one installed package
// may exist per KeySlot.
type KeySlot struct {
	Key  string // category/name
	Slot string
}

func (ks KeySlot) String() string { return ks.Key + ":" + ks.Slot }

// ParseKeySlot parses "category/name:slot".  A missing slot means "0".
func ParseKeySlot(s string) KeySlot {
	key, slot, ok := strings.Cut(s, ":")
	if !ok || slot == "" {
		slot = "0"
	}
	return KeySlot{Key: key, Slot: slot}
}

func KeySlotCompare(a, b KeySlot) int {
	if c := strings.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return strings.Compare(a.Slot, b.Slot)
}
