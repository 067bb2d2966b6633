package pkgqueue_test

import (
	"context"
	"fmt"

	"github.com/rhansen/pkgqueue"
	"github.com/rhansen/pkgqueue/internal/memrepo"
)

func Example() {
	ctx := context.Background()

	// Describe the installed packages and one remote repository.  Real programs implement
	// [pkgqueue.Repository] on top of their package databases.
	installed, err := memrepo.New("installed",
		memrepo.Package(1, "lib/baz-1"))
	if err != nil {
		panic(err)
	}
	main, err := memrepo.New("main",
		memrepo.Package(1, "app/foo-1", memrepo.Runtime("lib/bar")),
		memrepo.Package(2, "lib/bar-1", memrepo.Runtime(">=lib/baz-1")),
		memrepo.Package(3, "lib/baz-1"))
	if err != nil {
		panic(err)
	}

	r, err := pkgqueue.NewResolver(installed, []pkgqueue.Repository{main}, pkgqueue.Settings{})
	if err != nil {
		panic(err)
	}

	// Resolve the packages to install, dependencies first.  lib/baz is already installed.
	plan, err := r.ResolveInstallQueue(ctx, []string{"app/foo"}, pkgqueue.GraphOptions{})
	if err != nil {
		panic(err)
	}
	for _, m := range plan.Install {
		atom, err := r.RetrieveAtom(ctx, m)
		if err != nil {
			panic(err)
		}
		fmt.Printf("install %v (%v)\n", atom, m)
	}

	// Removing lib/baz takes everything installed that needs it along.
	rplan, err := r.ResolveRemovalQueue(ctx, []pkgqueue.PackageId{1}, pkgqueue.RemovalOptions{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("remove %v\n", rplan.Remove)

	// Output:
	// install lib/bar-1 (2@main)
	// install app/foo-1 (1@main)
	// remove [1]
}

func ExampleResolver_AtomMatch() {
	ctx := context.Background()
	installed, err := memrepo.New("installed")
	if err != nil {
		panic(err)
	}
	main, err := memrepo.New("main",
		memrepo.Package(1, "app/foo-1"),
		memrepo.Package(2, "app/foo-2", memrepo.Masked(1)))
	if err != nil {
		panic(err)
	}
	r, err := pkgqueue.NewResolver(installed, []pkgqueue.Repository{main}, pkgqueue.Settings{
		MaskReasons: map[int]string{1: "testing"},
	})
	if err != nil {
		panic(err)
	}
	res, err := r.AtomMatch(ctx, "app/foo", pkgqueue.MatchOptions{AllowMasked: true, MultiMatch: true})
	if err != nil {
		panic(err)
	}
	for _, m := range res.Matches {
		atom, _ := r.RetrieveAtom(ctx, m)
		if mask, ok := res.Masks[m]; ok {
			fmt.Printf("%v (masked: %v)\n", atom, mask)
			continue
		}
		fmt.Println(atom)
	}

	// Output:
	// app/foo-2 (masked: testing)
	// app/foo-1
}
