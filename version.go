package pkgqueue

import (
	"cmp"
	"fmt"
	"regexp"
	"strings"
)

var versionRe = regexp.MustCompile(
	`^(\d+)((?:\.\d+)*)([a-z]?)((?:_(?:alpha|beta|pre|rc|p)\d*)*)(?:-r(\d+))?$`)

var suffixRe = regexp.MustCompile(`_(alpha|beta|pre|rc|p)(\d*)`)

// Suffix ranks.  A version without suffix ranks between rc and p.
var suffixRank = map[string]int{"alpha": 0, "beta": 1, "pre": 2, "rc": 3, "p": 5}

const noSuffixRank = 4

type versionSuffix struct {
	rank int
	num  string
}

type version struct {
	components []string
	letter     string
	suffixes   []versionSuffix
	revision   string
}

func parseVersion(s string) (version, bool) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return version{}, false
	}
	v := version{
		components: []string{m[1]},
		letter:     m[3],
		revision:   m[5],
	}
	if m[2] != "" {
		v.components = append(v.components, strings.Split(m[2][1:], ".")...)
	}
	for _, sm := range suffixRe.FindAllStringSubmatch(m[4], -1) {
		v.suffixes = append(v.suffixes, versionSuffix{rank: suffixRank[sm[1]], num: sm[2]})
	}
	return v, true
}

// ValidVersion reports whether s is a well-formed package version such as "1.2.3b_rc1-r2".
func ValidVersion(s string) bool {
	_, ok := parseVersion(s)
	return ok
}

// compareNumeric compares two unbounded decimal strings.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// CompareVersions orders two package versions.  Numeric components are compared as numbers unless
// one of them has a leading zero, in which case they are compared as decimal fractions.  Then come
// the letter, the suffix ladder (_alpha < _beta < _pre < _rc < none < _p) and finally the
// revision.  Malformed versions sort before well-formed ones and are otherwise compared as
// strings.
func CompareVersions(a, b string) int {
	va, okA := parseVersion(a)
	vb, okB := parseVersion(b)
	switch {
	case !okA && !okB:
		return strings.Compare(a, b)
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return compareVersion(va, vb, true)
}

func compareVersion(a, b version, withRevision bool) int {
	if c := compareNumeric(a.components[0], b.components[0]); c != 0 {
		return c
	}
	for i := 1; i < min(len(a.components), len(b.components)); i++ {
		ca, cb := a.components[i], b.components[i]
		var c int
		if strings.HasPrefix(ca, "0") || strings.HasPrefix(cb, "0") {
			c = strings.Compare(strings.TrimRight(ca, "0"), strings.TrimRight(cb, "0"))
		} else {
			c = compareNumeric(ca, cb)
		}
		if c != 0 {
			return c
		}
	}
	if c := cmp.Compare(len(a.components), len(b.components)); c != 0 {
		return c
	}
	if c := strings.Compare(a.letter, b.letter); c != 0 {
		return c
	}
	for i := range max(len(a.suffixes), len(b.suffixes)) {
		sa := versionSuffix{rank: noSuffixRank}
		sb := sa
		if i < len(a.suffixes) {
			sa = a.suffixes[i]
		}
		if i < len(b.suffixes) {
			sb = b.suffixes[i]
		}
		if c := cmp.Compare(sa.rank, sb.rank); c != 0 {
			return c
		}
		if c := compareNumeric(sa.num, sb.num); c != 0 {
			return c
		}
	}
	if !withRevision {
		return 0
	}
	return compareNumeric(a.revision, b.revision)
}

// Versioning is the full ordering key of a package: its version, its tag (kernel flavour and the
// like) and the repository revision of the binary build.
type Versioning struct {
	Version  string
	Tag      string
	Revision int
}

func (v Versioning) String() string {
	s := v.Version
	if v.Tag != "" {
		s += "#" + v.Tag
	}
	return fmt.Sprintf("%s~%d", s, v.Revision)
}

// CompareVersioning compares the versions, then the tags (an empty tag sorts first), then the
// revisions.
func CompareVersioning(a, b Versioning) int {
	if c := CompareVersions(a.Version, b.Version); c != 0 {
		return c
	}
	if c := strings.Compare(a.Tag, b.Tag); c != 0 {
		return c
	}
	return cmp.Compare(a.Revision, b.Revision)
}
