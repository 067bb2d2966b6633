package pkgqueue

import (
	"context"
	"log/slog"
)

// selectBranch returns the atoms of the branch chosen for a dependency of m.  Plain dependencies
// have a single branch.  OR groups use the solver's choice when there is one, otherwise the first
// branch whose atoms are all installed, otherwise the first branch.
func (b *builder) selectBranch(ctx context.Context, m PackageMatch, dep string, expr DependencyExpr) ([]Atom, error) {
	if !expr.Or {
		return expr.Branches[0], nil
	}
	if i, ok := b.orChoice[orKey{m, dep}]; ok {
		return expr.Branches[i], nil
	}
	i, err := b.res.firstInstalledBranch(ctx, expr)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "OR dependency branch selected", "package", m, "dependency", dep, "branch", i)
	return expr.Branches[i], nil
}

func (res *resolution) firstInstalledBranch(ctx context.Context, expr DependencyExpr) (int, error) {
	for i, branch := range expr.Branches {
		ok, err := res.branchInstalled(ctx, branch)
		if err != nil {
			return 0, err
		}
		if ok {
			return i, nil
		}
	}
	return 0, nil
}

// branchInstalled reports whether every atom of the branch has an installed match.  Blockers are
// satisfied when nothing installed matches them.
func (res *resolution) branchInstalled(ctx context.Context, branch []Atom) (bool, error) {
	for _, a := range branch {
		blocker := a.Blocker
		a.Blocker = false
		inst, err := res.matchInstalled(ctx, a)
		if err != nil {
			return false, err
		}
		if (len(inst) > 0) == blocker {
			return false, nil
		}
	}
	return true, nil
}
