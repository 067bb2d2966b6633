package pkgqueue

import (
	"fmt"
	"iter"
	"slices"
	"strings"
)

// An Operator constrains the version of the packages an [Atom] matches.
type Operator int

const (
	OpNone         Operator = iota
	OpEqual                 // =
	OpApprox                // ~ (any revision)
	OpGreater               // >
	OpGreaterEqual          // >=
	OpLess                  // <
	OpLessEqual             // <=
)

var opStrings = [...]string{"", "=", "~", ">", ">=", "<", "<="}

func (op Operator) String() string {
	if op < 0 || int(op) >= len(opStrings) {
		return fmt.Sprintf("Operator(%d)", int(op))
	}
	return opStrings[op]
}

// An Atom is a parsed package specifier of the form
//
//	[!][op]category/name[-version[*]][:slot][#tag][@repo,...]
//
// A missing operator with a version present is treated as [OpEqual].  A trailing "*" turns an "="
// version into a prefix match.  The @repo suffix restricts matching to the named repositories.
type Atom struct {
	Blocker bool
	Op      Operator
	Key     string // category/name
	Version string
	Glob    bool
	Slot    string
	Tag     string
	Repos   []string
}

// ParseAtom parses a single atom.  Dependency strings that may contain OR groups are parsed with
// [ParseDependency].
func ParseAtom(s string) (Atom, error) {
	orig := s
	s = strings.TrimSpace(s)
	var a Atom
	if s == "" {
		return a, fmt.Errorf("empty atom")
	}
	if strings.ContainsAny(s, " \t()|") {
		return a, fmt.Errorf("invalid atom %q: unexpected whitespace or grouping", orig)
	}
	if rest, ok := strings.CutPrefix(s, "!"); ok {
		a.Blocker = true
		s = strings.TrimPrefix(rest, "!")
	}
	for _, op := range []Operator{OpGreaterEqual, OpLessEqual, OpGreater, OpLess, OpEqual, OpApprox} {
		if rest, ok := strings.CutPrefix(s, op.String()); ok {
			a.Op = op
			s = rest
			break
		}
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		for r := range strings.SplitSeq(s[i+1:], ",") {
			if r == "" {
				return Atom{}, fmt.Errorf("invalid atom %q: empty repository name", orig)
			}
			a.Repos = append(a.Repos, r)
		}
		s = s[:i]
	}
	base := s
	if i := strings.IndexAny(s, ":#"); i >= 0 {
		base = s[:i]
		for rest := s[i:]; rest != ""; {
			sep := rest[0]
			end := strings.IndexAny(rest[1:], ":#")
			if end < 0 {
				end = len(rest) - 1
			}
			val := rest[1 : end+1]
			rest = rest[end+1:]
			if val == "" {
				return Atom{}, fmt.Errorf("invalid atom %q: empty %q field", orig, sep)
			}
			switch {
			case sep == ':' && a.Slot == "":
				a.Slot = val
			case sep == '#' && a.Tag == "":
				a.Tag = val
			default:
				return Atom{}, fmt.Errorf("invalid atom %q: duplicate %q field", orig, sep)
			}
		}
	}
	if b, ok := strings.CutSuffix(base, "*"); ok {
		a.Glob = true
		base = b
	}
	a.Key, a.Version = splitKeyVersion(base)
	cat, name, ok := strings.Cut(a.Key, "/")
	if !ok || cat == "" || name == "" || strings.Contains(name, "/") {
		return Atom{}, fmt.Errorf("invalid atom %q: want category/name", orig)
	}
	switch {
	case a.Op != OpNone && a.Version == "":
		return Atom{}, fmt.Errorf("invalid atom %q: operator %q without version", orig, a.Op)
	case a.Op == OpNone && a.Version != "":
		a.Op = OpEqual
	}
	if a.Glob && a.Op != OpEqual {
		return Atom{}, fmt.Errorf("invalid atom %q: '*' is only valid with '='", orig)
	}
	return a, nil
}

// splitKeyVersion splits at the first hyphen (after the category) that starts a valid version.
func splitKeyVersion(s string) (key, ver string) {
	slash := strings.IndexByte(s, '/')
	for i := slash + 1; i < len(s); i++ {
		if s[i] == '-' && ValidVersion(s[i+1:]) {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func (a Atom) String() string {
	var sb strings.Builder
	if a.Blocker {
		sb.WriteByte('!')
	}
	sb.WriteString(a.Op.String())
	sb.WriteString(a.Key)
	if a.Version != "" {
		sb.WriteString("-" + a.Version)
	}
	if a.Glob {
		sb.WriteByte('*')
	}
	if a.Slot != "" {
		sb.WriteString(":" + a.Slot)
	}
	if a.Tag != "" {
		sb.WriteString("#" + a.Tag)
	}
	if len(a.Repos) > 0 {
		sb.WriteString("@" + strings.Join(a.Repos, ","))
	}
	return sb.String()
}

// Matches reports whether a package with the given key, slot and versioning satisfies the atom.
// The blocker flag and the repository restriction are not considered.
func (a Atom) Matches(key, slot string, v Versioning) bool {
	if a.Key != key {
		return false
	}
	if a.Slot != "" && a.Slot != slot {
		return false
	}
	if a.Tag != "" && a.Tag != v.Tag {
		return false
	}
	switch a.Op {
	case OpNone:
		return true
	case OpEqual:
		if a.Glob {
			return strings.HasPrefix(v.Version, a.Version)
		}
		return CompareVersions(v.Version, a.Version) == 0
	case OpApprox:
		va, okA := parseVersion(v.Version)
		vb, okB := parseVersion(a.Version)
		return okA && okB && compareVersion(va, vb, false) == 0
	}
	c := CompareVersions(v.Version, a.Version)
	switch a.Op {
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	}
	return false
}

// A DependencyExpr is a parsed dependency string: one or more branches, each of which is a
// conjunction of atoms.  A plain atom is a single one-atom branch.
type DependencyExpr struct {
	Branches [][]Atom
	Or       bool
}

// ParseDependency parses a dependency string.  Besides plain atoms it accepts OR groups written
// as "|| ( a ( b c ) )", where parenthesised members are AND branches, and the short form "a;b?".
func ParseDependency(s string) (DependencyExpr, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "||"); ok {
		return parseOrGroup(s, rest)
	}
	if body, ok := strings.CutSuffix(s, "?"); ok && strings.Contains(body, ";") {
		e := DependencyExpr{Or: true}
		for part := range strings.SplitSeq(body, ";") {
			a, err := ParseAtom(part)
			if err != nil {
				return DependencyExpr{}, fmt.Errorf("invalid OR dependency %q: %w", s, err)
			}
			e.Branches = append(e.Branches, []Atom{a})
		}
		return e, nil
	}
	a, err := ParseAtom(s)
	if err != nil {
		return DependencyExpr{}, err
	}
	return DependencyExpr{Branches: [][]Atom{{a}}}, nil
}

func parseOrGroup(orig, body string) (DependencyExpr, error) {
	tokens := strings.Fields(body)
	if len(tokens) < 2 || tokens[0] != "(" || tokens[len(tokens)-1] != ")" {
		return DependencyExpr{}, fmt.Errorf("invalid OR dependency %q: want || ( ... )", orig)
	}
	e := DependencyExpr{Or: true}
	var group []Atom
	inGroup := false
	for _, tok := range tokens[1 : len(tokens)-1] {
		switch tok {
		case "(":
			if inGroup {
				return DependencyExpr{}, fmt.Errorf("invalid OR dependency %q: nested group", orig)
			}
			inGroup, group = true, nil
		case ")":
			if !inGroup || len(group) == 0 {
				return DependencyExpr{}, fmt.Errorf("invalid OR dependency %q: unbalanced group", orig)
			}
			inGroup = false
			e.Branches = append(e.Branches, group)
		default:
			a, err := ParseAtom(tok)
			if err != nil {
				return DependencyExpr{}, fmt.Errorf("invalid OR dependency %q: %w", orig, err)
			}
			if inGroup {
				group = append(group, a)
			} else {
				e.Branches = append(e.Branches, []Atom{a})
			}
		}
	}
	if inGroup || len(e.Branches) == 0 {
		return DependencyExpr{}, fmt.Errorf("invalid OR dependency %q: empty or unterminated", orig)
	}
	return e, nil
}

// Atoms yields every atom of every branch.
func (e DependencyExpr) Atoms() iter.Seq[Atom] {
	return func(yield func(Atom) bool) {
		for _, b := range e.Branches {
			for _, a := range b {
				if !yield(a) {
					return
				}
			}
		}
	}
}

func (e DependencyExpr) String() string {
	if !e.Or {
		return e.Branches[0][0].String()
	}
	parts := []string{"||", "("}
	for _, b := range e.Branches {
		if len(b) == 1 {
			parts = append(parts, b[0].String())
			continue
		}
		parts = append(parts, "(")
		for _, a := range b {
			parts = append(parts, a.String())
		}
		parts = append(parts, ")")
	}
	return strings.Join(slices.Concat(parts, []string{")"}), " ")
}
