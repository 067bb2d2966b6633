package pkgqueue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/rhansen/pkgqueue/internal/logging"
)

// A Scope selects the repositories an atom is matched against.  The zero value is every remote
// repository.
type Scope struct {
	installed bool
	repos     []string
}

// ScopeAll matches against every remote repository.
func ScopeAll() Scope { return Scope{} }

// ScopeInstalled matches against the installed-packages repository only.
func ScopeInstalled() Scope { return Scope{installed: true} }

// ScopeRepositories matches against the listed remote repositories, still ranked by priority.
func ScopeRepositories(ids ...string) Scope {
	return Scope{repos: append([]string{}, ids...)}
}

func (s Scope) String() string {
	switch {
	case s.installed:
		return "installed"
	case s.repos == nil:
		return "all"
	}
	return strings.Join(s.repos, ",")
}

// A Mask explains why a package is hidden from default matching.
type Mask struct {
	Reason      int
	Description string
}

func (m Mask) String() string {
	if m.Description != "" {
		return m.Description
	}
	return fmt.Sprintf("mask reason %d", m.Reason)
}

type maskState struct {
	mask   Mask
	masked bool
}

type MatchOptions struct {
	Scope Scope
	// Slot restricts candidates to one slot, in addition to any slot in the atom.
	Slot string
	// AllowMasked makes masked packages eligible.  Their masks are reported in
	// [MatchResult.Masks].
	AllowMasked bool
	// MultiMatch returns every candidate instead of the best one.
	MultiMatch bool
}

type MatchResult struct {
	// Matches is ordered best first.  It holds exactly one entry unless
	// [MatchOptions.MultiMatch] was set.
	Matches []PackageMatch
	// Masks holds the masks of the returned matches that are masked.
	Masks map[PackageMatch]Mask
}

// Best returns the best match.
func (r MatchResult) Best() PackageMatch { return r.Matches[0] }

// AtomMatch resolves an atom to packages.  Candidates are ranked by versioning, then by
// repository priority, so the result is deterministic for a given priority list.  It fails with a
// [*NotFoundError] when the atom is invalid or nothing matches, and with an [*AllMaskedError] when
// every candidate is masked and masked packages are not allowed.
func (r *Resolver) AtomMatch(ctx context.Context, atom string, opts MatchOptions) (MatchResult, error) {
	a, err := ParseAtom(atom)
	if err != nil {
		return MatchResult{}, &NotFoundError{Atom: atom, Err: err}
	}
	return r.newResolution().matchAtom(ctx, a, opts)
}

type candidate struct {
	m    PackageMatch
	v    Versioning
	prio int
}

func (res *resolution) scopeRepos(s Scope, restrict []string) []Repository {
	if s.installed {
		return []Repository{res.r.installed}
	}
	var repos []Repository
	for _, repo := range res.r.repos {
		id := repo.Id()
		if s.repos != nil && !slices.Contains(s.repos, id) {
			continue
		}
		if len(restrict) > 0 && !slices.Contains(restrict, id) {
			continue
		}
		repos = append(repos, repo)
	}
	return repos
}

func (res *resolution) masked(ctx context.Context, m PackageMatch) (maskState, error) {
	return memo(res, res.masks, m, m, func(repo Repository, id PackageId) (maskState, error) {
		reason, masked, err := repo.RetrieveMask(ctx, id)
		if err != nil || !masked {
			return maskState{}, err
		}
		return maskState{
			mask:   Mask{Reason: reason, Description: res.r.settings.MaskReasons[reason]},
			masked: true,
		}, nil
	})
}

func (res *resolution) matchAtom(ctx context.Context, a Atom, opts MatchOptions) (MatchResult, error) {
	query := a
	query.Blocker = false
	query.Repos = nil
	var cands []candidate
	for prio, repo := range res.scopeRepos(opts.Scope, a.Repos) {
		ids, err := res.repoMatch(ctx, repo, query, opts.Slot)
		if err != nil {
			return MatchResult{}, err
		}
		for _, id := range ids {
			m := res.match(repo, id)
			v, err := res.versioning(ctx, m)
			if err != nil {
				return MatchResult{}, err
			}
			cands = append(cands, candidate{m: m, v: v, prio: prio})
		}
	}
	if len(cands) == 0 {
		slog.Log(ctx, logging.LevelTrace, "atom not found", "atom", a, "scope", opts.Scope)
		return MatchResult{}, &NotFoundError{Atom: a.String()}
	}
	masks := map[PackageMatch]Mask{}
	if !opts.Scope.installed {
		for _, c := range cands {
			st, err := res.masked(ctx, c.m)
			if err != nil {
				return MatchResult{}, err
			}
			if st.masked {
				masks[c.m] = st.mask
			}
		}
	}
	if !opts.AllowMasked && len(masks) > 0 {
		cands = slices.DeleteFunc(cands, func(c candidate) bool {
			_, masked := masks[c.m]
			return masked
		})
		if len(cands) == 0 {
			return MatchResult{}, &AllMaskedError{Atom: a.String(), Masks: masks}
		}
	}
	slices.SortFunc(cands, func(x, y candidate) int {
		if c := CompareVersioning(y.v, x.v); c != 0 {
			return c
		}
		if x.prio != y.prio {
			return x.prio - y.prio
		}
		return PackageMatchCompare(x.m, y.m)
	})
	if !opts.MultiMatch {
		cands = cands[:1]
	}
	ret := MatchResult{Masks: map[PackageMatch]Mask{}}
	for _, c := range cands {
		ret.Matches = append(ret.Matches, c.m)
		if mask, ok := masks[c.m]; ok {
			ret.Masks[c.m] = mask
		}
	}
	slog.Log(ctx, logging.LevelTrace, "atom matched", "atom", a, "best", ret.Matches[0])
	return ret, nil
}

// matchInstalled returns every installed package satisfying the atom, best first, or nil.
func (res *resolution) matchInstalled(ctx context.Context, a Atom) ([]PackageMatch, error) {
	mr, err := res.matchAtom(ctx, a, MatchOptions{Scope: ScopeInstalled(), MultiMatch: true})
	if isMatchFailure(err) {
		return nil, nil
	}
	return mr.Matches, err
}

// isMatchFailure reports whether err means "nothing usable matched" as opposed to a failure of
// the resolution itself.
func isMatchFailure(err error) bool {
	switch err.(type) {
	case *NotFoundError, *AllMaskedError:
		return true
	}
	return false
}
