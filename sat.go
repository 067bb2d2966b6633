package pkgqueue

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/crillab/gophersat/solver"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/pkgqueue/internal/itertools"
	"github.com/rhansen/pkgqueue/internal/logging"
)

// satOutcome is how an atom resolves during exploration: already satisfied, missing, or a package
// that would have to be installed.
type satOutcome struct {
	m         PackageMatch
	satisfied bool
}

type satGroup struct {
	key      orKey
	branches [][]satOutcome
}

type satRequire struct {
	owner, dep PackageMatch
}

// satUniverse is every package reachable from the seeds through any OR branch, with the
// constraints linking them.
type satUniverse struct {
	pkgs     []PackageMatch
	vars     map[PackageMatch]solver.Var
	requires []satRequire
	groups   []satGroup
}

func (u *satUniverse) add(m PackageMatch) bool {
	if _, ok := u.vars[m]; ok {
		return false
	}
	u.vars[m] = solver.Var(len(u.pkgs))
	u.pkgs = append(u.pkgs, m)
	return true
}

// solveOr chooses a branch for every OR group reachable from the seeds by minimizing the number
// of packages to install, then the branch indices.  An empty choice is returned when no selection
// satisfies the constraints.
func (res *resolution) solveOr(ctx context.Context, seeds []PackageMatch, opts GraphOptions) (map[orKey]int, error) {
	u, err := res.exploreOr(ctx, seeds, opts)
	if err != nil {
		return nil, err
	}
	if len(u.groups) == 0 {
		return map[orKey]int{}, nil
	}
	prob, branchVars, err := res.buildOrProblem(ctx, u, seeds)
	if err != nil {
		return nil, err
	}
	s := solver.New(prob)
	result := s.Optimal(nil, nil)
	if result.Status != solver.Sat {
		slog.Log(ctx, logging.LevelNotice, "no OR dependency selection satisfies every constraint; using first installed branch",
			"status", result.Status)
		return map[orKey]int{}, nil
	}
	choice := map[orKey]int{}
	for gi, g := range u.groups {
		for bi, v := range branchVars[gi] {
			if result.Model[v] {
				choice[g.key] = bi
				break
			}
		}
	}
	slog.DebugContext(ctx, "OR dependencies solved", "groups", len(u.groups), "packages", len(u.pkgs),
		"cost", result.Weight)
	return choice, nil
}

func (res *resolution) exploreOr(ctx context.Context, seeds []PackageMatch, opts GraphOptions) (*satUniverse, error) {
	u := &satUniverse{vars: map[PackageMatch]solver.Var{}}
	var stack Lifo[PackageMatch]
	for _, s := range seeds {
		if u.add(s) {
			stack.Push(s)
		}
	}
	seedSet := mapset.NewThreadUnsafeSet(seeds...)
	outcome := func(a Atom) (satOutcome, bool, error) {
		if !opts.Empty {
			sat, err := res.satisfied(ctx, a, opts)
			if err != nil || sat {
				return satOutcome{satisfied: true}, sat, err
			}
		}
		mr, err := res.matchAtom(ctx, a, MatchOptions{})
		if isMatchFailure(err) {
			return satOutcome{}, false, nil
		} else if err != nil {
			return satOutcome{}, false, err
		}
		if _, err := res.atom(ctx, mr.Best()); err != nil {
			return satOutcome{}, false, err
		}
		return satOutcome{m: mr.Best()}, true, nil
	}
	for {
		p, ok := stack.Pop()
		if !ok {
			break
		}
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		if opts.Shallow && !seedSet.Contains(p) {
			continue
		}
		deps, err := res.dependencies(ctx, p, opts.BuildDeps)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if d.Kind == Conflict || (d.Kind == Build && !opts.BuildDeps) {
				continue
			}
			expr, err := res.parseDependency(d.Atom)
			if err != nil {
				continue
			}
			g := satGroup{key: orKey{p, d.Atom}}
			for _, branch := range expr.Branches {
				var outs []satOutcome
				for _, a := range branch {
					if a.Blocker {
						continue
					}
					o, found, err := outcome(a)
					if err != nil {
						return nil, err
					}
					if !found {
						// A missing atom makes the branch unusable.
						outs = append(outs, satOutcome{})
						continue
					}
					outs = append(outs, o)
					if o.m.IsValid() && u.add(o.m) {
						stack.Push(o.m)
					}
				}
				g.branches = append(g.branches, outs)
			}
			if expr.Or {
				u.groups = append(u.groups, g)
				continue
			}
			for _, o := range g.branches[0] {
				if o.m.IsValid() {
					u.requires = append(u.requires, satRequire{owner: p, dep: o.m})
				}
			}
		}
	}
	return u, nil
}

// buildOrProblem encodes the universe: seeds are selected, a selected package selects its plain
// dependencies and at least one branch of each OR group, a selected branch selects its packages, and
// at most one package is selected per KeySlot.
func (res *resolution) buildOrProblem(ctx context.Context, u *satUniverse, seeds []PackageMatch) (*solver.Problem, [][]solver.Var, error) {
	lit := func(v solver.Var) int { return int(v.Int()) }
	var constrs []solver.PBConstr
	for _, s := range seeds {
		constrs = append(constrs, solver.PropClause(lit(u.vars[s])))
	}
	for _, r := range u.requires {
		constrs = append(constrs, solver.PropClause(-lit(u.vars[r.owner]), lit(u.vars[r.dep])))
	}
	next := solver.Var(len(u.pkgs))
	branchVars := make([][]solver.Var, len(u.groups))
	var costLits []solver.Lit
	var costWeights []int
	for gi, g := range u.groups {
		owner := lit(u.vars[g.key.m])
		anyBranch := []int{-owner}
		for bi, branch := range g.branches {
			bv := next
			next++
			branchVars[gi] = append(branchVars[gi], bv)
			anyBranch = append(anyBranch, lit(bv))
			if bi > 0 {
				costLits = append(costLits, bv.Lit())
				costWeights = append(costWeights, bi)
			}
			for _, o := range branch {
				switch {
				case o.m.IsValid():
					constrs = append(constrs, solver.PropClause(-lit(bv), lit(u.vars[o.m])))
				case !o.satisfied:
					constrs = append(constrs, solver.PropClause(-lit(bv)))
				}
			}
		}
		constrs = append(constrs, solver.PropClause(anyBranch...))
	}
	bySlot := map[KeySlot][]int{}
	for _, m := range u.pkgs {
		ks, err := res.keySlot(ctx, m)
		if err != nil {
			return nil, nil, err
		}
		bySlot[ks] = append(bySlot[ks], lit(u.vars[m]))
	}
	for _, ks := range slices.SortedFunc(maps.Keys(bySlot), KeySlotCompare) {
		if lits := bySlot[ks]; len(lits) > 1 {
			constrs = append(constrs, solver.AtMost(lits, 1))
		}
	}
	prob := solver.ParsePBConstrs(constrs)
	// Every installed package costs more than any branch preference.
	pkgWeight := 1 + len(costWeights)*maxBranches(u.groups)
	for v := range itertools.Range(uint(0), uint(len(u.pkgs))) {
		costLits = append(costLits, solver.Var(v).Lit())
		costWeights = append(costWeights, pkgWeight)
	}
	prob.SetCostFunc(costLits, costWeights)
	return prob, branchVars, nil
}

func maxBranches(groups []satGroup) int {
	n := 0
	for _, g := range groups {
		n = max(n, len(g.branches))
	}
	return n
}
