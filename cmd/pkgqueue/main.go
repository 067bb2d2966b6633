package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"maps"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/amterp/color"
	"github.com/rhansen/pkgqueue"
	"github.com/rhansen/pkgqueue/internal/command"
	"github.com/rhansen/pkgqueue/internal/config"
	"github.com/rhansen/pkgqueue/internal/logging"
	"github.com/rhansen/pkgqueue/internal/memrepo"
)

//go:embed pkgqueue.1.in
var man []byte

type cmdFn = func(ctx context.Context, cfg *cliConfig, r *pkgqueue.Resolver, args []string) error

type cliConfig struct {
	installed  string
	repos      []string
	settings   string
	opts       pkgqueue.GraphOptions
	masked     bool
	output     *outputFn
	stdout     io.Writer
	stderr     io.Writer
	// explicit holds the names of the flags given on the command line.
	explicit map[string]bool
}

var commands = map[string]cmdFn{
	"match":   runMatch,
	"install": runInstall,
	"remove":  runRemove,
	"deps":    runDeps,
	"revdeps": runRevdeps,
}

func ver() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "(devel)" {
		return ""
	}
	return bi.Main.Version
}

func showMan(ctx context.Context) error {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Errorf("failed to fetch Go build information")
	}
	date := ""
	for _, s := range bi.Settings {
		if s.Key == "vcs.time" {
			when, err := time.Parse(time.RFC3339, s.Value)
			if err != nil {
				return fmt.Errorf("failed to parse vcs.time %q: %w", s.Value, err)
			}
			date = when.Format(time.DateOnly)
		}
	}
	page := bytes.ReplaceAll(man, []byte("%DATE%"), []byte(date))
	page = bytes.ReplaceAll(page, []byte("%VERSION%"), []byte(ver()))
	return command.Feed(ctx, page, "man", "-l", "-")
}

// newResolver loads the repository snapshots and settings named on the command line.
func newResolver(ctx context.Context, cfg *cliConfig) (*pkgqueue.Resolver, error) {
	if cfg.installed == "" {
		return nil, errors.New("the -installed option is required")
	}
	loaded, err := memrepo.LoadFiles(ctx, append([]string{cfg.installed}, cfg.repos...)...)
	if err != nil {
		return nil, err
	}
	settings := pkgqueue.Settings{}
	if cfg.settings != "" {
		c, err := config.Load(cfg.settings)
		if err != nil {
			return nil, err
		}
		if settings, err = c.Settings(); err != nil {
			return nil, err
		}
		dflt, err := c.GraphOptions()
		if err != nil {
			return nil, err
		}
		cfg.applyDefaults(dflt)
	}
	repos := make([]pkgqueue.Repository, 0, len(loaded)-1)
	for _, r := range loaded[1:] {
		repos = append(repos, r)
	}
	return pkgqueue.NewResolver(loaded[0], repos, settings)
}

// applyDefaults takes the options of the settings file for every flag not given on the command
// line.
func (cfg *cliConfig) applyDefaults(dflt pkgqueue.GraphOptions) {
	if !cfg.explicit["relaxed"] {
		cfg.opts.Relaxed = dflt.Relaxed
	}
	if !cfg.explicit["deep"] {
		cfg.opts.Deep = dflt.Deep
	}
	if !cfg.explicit["build"] {
		cfg.opts.BuildDeps = dflt.BuildDeps
	}
	if !cfg.explicit["or"] {
		cfg.opts.OrStrategy = dflt.OrStrategy
	}
}

func matchLabel(ctx context.Context, r *pkgqueue.Resolver, m pkgqueue.PackageMatch) string {
	atom, err := r.RetrieveAtom(ctx, m)
	if err != nil {
		atom = m.String()
	}
	if repo, ok := m.Repository(); ok {
		return fmt.Sprintf("%s@%s", atom, repo)
	}
	return atom
}

func installedLabel(ctx context.Context, r *pkgqueue.Resolver, id pkgqueue.PackageId) string {
	return matchLabel(ctx, r, pkgqueue.Installed(id))
}

func runMatch(ctx context.Context, cfg *cliConfig, r *pkgqueue.Resolver, args []string) error {
	for _, a := range args {
		mr, err := r.AtomMatch(ctx, a, pkgqueue.MatchOptions{AllowMasked: cfg.masked, MultiMatch: true})
		if err != nil {
			return err
		}
		for _, m := range mr.Matches {
			line := matchLabel(ctx, r, m)
			if mask, ok := mr.Masks[m]; ok {
				line += yellowf(" [masked: %v]", mask)
			}
			fmt.Fprintln(cfg.stdout, line)
		}
	}
	return nil
}

// matchSeeds matches the command line atoms against the remote repositories.
func matchSeeds(ctx context.Context, cfg *cliConfig, r *pkgqueue.Resolver, atoms []string) ([]pkgqueue.PackageMatch, error) {
	var seeds []pkgqueue.PackageMatch
	for _, a := range atoms {
		mr, err := r.AtomMatch(ctx, a, pkgqueue.MatchOptions{AllowMasked: cfg.masked})
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, mr.Best())
	}
	return seeds, nil
}

func runInstall(ctx context.Context, cfg *cliConfig, r *pkgqueue.Resolver, args []string) error {
	var plan *pkgqueue.InstallPlan
	if cfg.masked {
		seeds, err := matchSeeds(ctx, cfg, r, args)
		if err != nil {
			return err
		}
		if plan, err = r.ResolveInstallMatches(ctx, seeds, cfg.opts); err != nil {
			return err
		}
	} else {
		var err error
		if plan, err = r.ResolveInstallQueue(ctx, args, cfg.opts); err != nil {
			return err
		}
	}
	for _, e := range plan.BrokenCycles {
		fmt.Fprintln(cfg.stderr, yellowf("warning: dependency cycle broken between %s and %s",
			matchLabel(ctx, r, e.From), matchLabel(ctx, r, e.To)))
	}
	for _, id := range plan.Remove {
		fmt.Fprintf(cfg.stdout, "%s %s\n", redf("remove "), installedLabel(ctx, r, id))
	}
	for _, m := range plan.Install {
		fmt.Fprintf(cfg.stdout, "%s %s\n", greenf("install"), matchLabel(ctx, r, m))
	}
	return nil
}

// installedIds matches atoms against the installed packages.
func installedIds(ctx context.Context, r *pkgqueue.Resolver, atoms []string) ([]pkgqueue.PackageId, error) {
	var ids []pkgqueue.PackageId
	for _, a := range atoms {
		mr, err := r.AtomMatch(ctx, a, pkgqueue.MatchOptions{Scope: pkgqueue.ScopeInstalled(), MultiMatch: true})
		if err != nil {
			return nil, err
		}
		for _, m := range mr.Matches {
			ids = append(ids, m.Id())
		}
	}
	return ids, nil
}

func runRemove(ctx context.Context, cfg *cliConfig, r *pkgqueue.Resolver, args []string) error {
	ids, err := installedIds(ctx, r, args)
	if err != nil {
		return err
	}
	plan, err := r.ResolveRemovalQueue(ctx, ids, pkgqueue.RemovalOptions{
		Shallow: cfg.opts.Shallow,
		Deep:    cfg.opts.Deep,
	})
	if err != nil {
		return err
	}
	for _, p := range plan.Protected {
		fmt.Fprintln(cfg.stderr, yellowf("warning: system package %s depends on %s and is kept",
			installedLabel(ctx, r, p.Dependent), installedLabel(ctx, r, p.Dependency)))
	}
	for _, id := range plan.Remove {
		fmt.Fprintf(cfg.stdout, "%s %s\n", redf("remove"), installedLabel(ctx, r, id))
	}
	return nil
}

func runDeps(ctx context.Context, cfg *cliConfig, r *pkgqueue.Resolver, args []string) error {
	seeds, err := matchSeeds(ctx, cfg, r, args)
	if err != nil {
		return err
	}
	dg, err := r.BuildDependencyGraph(ctx, seeds, cfg.opts)
	if err != nil {
		return err
	}
	if err := (*cfg.output)(ctx, cfg.stdout, depView(dg)); err != nil {
		return err
	}
	for _, m := range dg.Missing {
		fmt.Fprintln(cfg.stderr, yellowf("warning: missing dependency %s", m))
	}
	return nil
}

func runRevdeps(ctx context.Context, cfg *cliConfig, r *pkgqueue.Resolver, args []string) error {
	ids, err := installedIds(ctx, r, args)
	if err != nil {
		return err
	}
	rg, err := r.ReverseDependencyGraph(ctx, ids)
	if err != nil {
		return err
	}
	return (*cfg.output)(ctx, cfg.stdout, revdepView(rg))
}

// explain renders resolution failures as actionable lists.
func explain(ctx context.Context, w io.Writer, r *pkgqueue.Resolver, err error) {
	var (
		notFound     *pkgqueue.DependenciesNotFoundError
		collision    *pkgqueue.DependenciesCollisionError
		masked       *pkgqueue.AllMaskedError
		notRemovable *pkgqueue.DependenciesNotRemovableError
	)
	switch {
	case errors.As(err, &notFound):
		fmt.Fprintln(w, redf("The following dependencies could not be found:"))
		for i, m := range notFound.Missing {
			fmt.Fprintf(w, "  %d. %s\n", i+1, m)
		}
	case errors.As(err, &collision):
		fmt.Fprintln(w, redf("The following packages cannot be installed together; mask one of each group:"))
		for i, c := range collision.Collisions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, cyanf("%v", c.KeySlot))
			for _, m := range c.Matches {
				fmt.Fprintf(w, "     - %s", matchLabel(ctx, r, m))
				if reqs := c.Requirers[m]; len(reqs) > 0 {
					names := make([]string, 0, len(reqs))
					for _, req := range reqs {
						names = append(names, matchLabel(ctx, r, req))
					}
					fmt.Fprint(w, hiblackf(" (required by %s)", strings.Join(names, ", ")))
				}
				fmt.Fprintln(w)
			}
		}
	case errors.As(err, &masked):
		fmt.Fprintf(w, "%s\n", redf("All packages matching %s are masked:", masked.Atom))
		for _, m := range slices.SortedFunc(maps.Keys(masked.Masks), pkgqueue.PackageMatchCompare) {
			fmt.Fprintf(w, "  - %s: %v\n", matchLabel(ctx, r, m), masked.Masks[m])
		}
	case errors.As(err, &notRemovable):
		fmt.Fprintln(w, redf("The following system packages cannot be removed:"))
		for i, id := range notRemovable.Ids {
			fmt.Fprintf(w, "  %d. %s\n", i+1, installedLabel(ctx, r, id))
		}
	case errors.Is(err, pkgqueue.ErrRepositoryUnavailable):
		fmt.Fprintf(w, "%s\n%s\n", redf("%v", err), "Run a repository sync and try again.")
	default:
		fmt.Fprintf(w, "%s\n", redf("%v", err))
	}
}

var slogLevel = func() *slog.LevelVar {
	lvl := &slog.LevelVar{}
	lvl.Set(logging.LevelInfo)
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl, ReplaceAttr: logging.ReplaceAttr})
	slog.SetDefault(slog.New(h))
	return lvl
}()

func choiceFlag[T any](p *T, name string, choices map[string]T, dflt string, post func(string) error, usage string) {
	cstr := strings.Join(slices.Sorted(maps.Keys(choices)), ", ")
	var ok bool
	if *p, ok = choices[dflt]; !ok {
		panic(fmt.Errorf("invalid default for %v option: %v", dflt, name))
	}
	usage += fmt.Sprintf(" (one of: %v; default: %v)", cstr, dflt)
	flag.Func(name, usage, func(arg string) error {
		if arg == "" {
			arg = dflt
		}
		v, ok := choices[arg]
		if !ok {
			return fmt.Errorf("expected one of: %v", cstr)
		}
		*p = v
		if post != nil {
			return post(arg)
		}
		return nil
	})
}

func parseFlags(ctx context.Context) (*cliConfig, cmdFn, []string) {
	cfg := &cliConfig{stdout: os.Stdout, stderr: os.Stderr}

	bumpLogLevel := func(lower bool) {
		slogLevel.Set(logging.BumpLevel(slogLevel.Level(), lower))
	}
	setLogLevel := func(arg string) error {
		lvl, err := logging.StringToLevel(arg)
		if err != nil {
			return err
		}
		slogLevel.Set(lvl)
		return nil
	}
	flag.BoolFunc("v", "Increase log verbosity.", func(arg string) error {
		switch arg {
		case "", "true":
			bumpLogLevel(true)
		default:
			return setLogLevel(arg)
		}
		return nil
	})
	flag.BoolFunc("q", "Decrease log verbosity.", func(arg string) error {
		switch arg {
		case "", "true":
			bumpLogLevel(false)
		default:
			return setLogLevel(arg)
		}
		return nil
	})
	colorChoices := map[string]bool{
		"auto":   color.NoColor,
		"never":  true,
		"always": false,
	}
	choiceFlag(&color.NoColor, "color", colorChoices, "auto", nil,
		"Output colors according to `mode`.")
	choiceFlag(&cfg.output, "format", allOutput, "tree", nil,
		"Print dependency graphs according to `mode`.")
	orChoices := map[string]pkgqueue.OrStrategy{
		"first": pkgqueue.OrFirst,
		"sat":   pkgqueue.OrSat,
	}
	choiceFlag(&cfg.opts.OrStrategy, "or", orChoices, "first", nil,
		"Select OR dependency branches using the strategy indicated by `mode`.")
	flag.StringVar(&cfg.installed, "installed", "", "Read the installed packages from the YAML snapshot `file`.")
	flag.Func("repo", "Add the remote repository YAML snapshot `file`.  May be repeated.", func(arg string) error {
		cfg.repos = append(cfg.repos, arg)
		return nil
	})
	flag.StringVar(&cfg.settings, "config", "", "Read settings from the TOML `file`.")
	flag.BoolVar(&cfg.opts.Empty, "empty", false, "Ignore installed packages when pulling dependencies.")
	flag.BoolVar(&cfg.opts.Deep, "deep", false, "Re-check installed dependencies and re-queue broken reverse dependencies.")
	flag.BoolVar(&cfg.opts.Relaxed, "relaxed", false, "Accept any installed match of a dependency.")
	flag.BoolVar(&cfg.opts.BuildDeps, "build", false, "Include build dependencies.")
	flag.BoolVar(&cfg.opts.Shallow, "shallow", false, "Do not walk dependencies of dependencies.")
	flag.BoolVar(&cfg.opts.OnlyDeps, "onlydeps", false, "Install the dependencies of the named packages but not the packages themselves.")
	flag.BoolVar(&cfg.masked, "masked", false, "Allow masked packages when matching atoms given on the command line.")
	flag.BoolFunc("man", "Show the usage manual and exit.", func(_ string) error {
		if err := showMan(ctx); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
		return nil
	})
	help := func(string) error {
		flag.CommandLine.SetOutput(os.Stdout)
		flag.Usage()
		os.Exit(0)
		return nil
	}
	helpUsage := "Print usage information and exit."
	flag.BoolFunc("h", helpUsage, help)
	flag.BoolFunc("help", helpUsage, help)
	flag.BoolFunc("version", "Print the version and exit.", func(string) error {
		v := ver()
		if v == "" {
			log.Fatal("the Go build information is unavailable; try passing the \"-buildvcs=true\" build option to go")
		}
		fmt.Printf("%s\n", v)
		os.Exit(0)
		return nil
	})
	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "usage: %s [flags] {%s} atom...\n", os.Args[0],
			strings.Join(slices.Sorted(maps.Keys(commands)), "|"))
		flag.PrintDefaults()
	}
	flag.Parse()
	cfg.explicit = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { cfg.explicit[f.Name] = true })
	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}
	fn, ok := commands[args[0]]
	if !ok {
		log.Fatalf("unknown command %q", args[0])
	}
	return cfg, fn, args[1:]
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg, fn, args := parseFlags(ctx)
	r, err := newResolver(ctx, cfg)
	if err != nil {
		slog.DebugContext(ctx, "failed to load repositories", "error", err)
		fmt.Fprintln(cfg.stderr, redf("%v", err))
		os.Exit(1)
	}
	if err := fn(ctx, cfg, r, args); err != nil {
		slog.DebugContext(ctx, "failed", "error", err)
		explain(ctx, cfg.stderr, r, err)
		os.Exit(1)
	}
}
