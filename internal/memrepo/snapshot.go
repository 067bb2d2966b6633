package memrepo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rhansen/pkgqueue"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// A snapshot is the YAML form of a repository:
//
//	id: main
//	packages:
//	  - id: 1
//	    atom: app-misc/foo-1.0
//	    slot: "0"
//	    dependencies:
//	      - dev-libs/bar
//	      - {atom: dev-util/make, kind: build}
//	      - "|| ( x11-libs/a x11-libs/b )"
//	    conflicts: [app-misc/oldfoo]
type snapshot struct {
	Id       string            `yaml:"id"`
	Packages []snapshotPackage `yaml:"packages"`
}

type snapshotPackage struct {
	Id           int           `yaml:"id"`
	Atom         string        `yaml:"atom"`
	Slot         string        `yaml:"slot"`
	Tag          string        `yaml:"tag"`
	Revision     int           `yaml:"revision"`
	KeySlot      string        `yaml:"keyslot"`
	System       bool          `yaml:"system"`
	Mask         *int          `yaml:"mask"`
	Dependencies []snapshotDep `yaml:"dependencies"`
	Conflicts    []string      `yaml:"conflicts"`
}

// A snapshotDep is either a plain dependency string (a runtime dependency) or a mapping with atom
// and kind keys.
type snapshotDep pkgqueue.Dependency

func (d *snapshotDep) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*d = snapshotDep{Atom: value.Value, Kind: pkgqueue.Runtime}
		return nil
	}
	var raw struct {
		Atom string `yaml:"atom"`
		Kind string `yaml:"kind"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Atom == "" {
		return fmt.Errorf("line %d: dependency without atom", value.Line)
	}
	kind, err := pkgqueue.ParseDependencyKind(raw.Kind)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = snapshotDep{Atom: raw.Atom, Kind: kind}
	return nil
}

func (sp *snapshotPackage) options() []PackageOption {
	var opts []PackageOption
	if sp.Slot != "" {
		opts = append(opts, Slot(sp.Slot))
	}
	if sp.Tag != "" {
		opts = append(opts, Tag(sp.Tag))
	}
	if sp.Revision != 0 {
		opts = append(opts, Revision(sp.Revision))
	}
	if sp.KeySlot != "" {
		opts = append(opts, KeySlot(sp.KeySlot))
	}
	if sp.System {
		opts = append(opts, System())
	}
	if sp.Mask != nil {
		opts = append(opts, Masked(*sp.Mask))
	}
	for _, d := range sp.Dependencies {
		opts = append(opts, Depends(d.Kind, d.Atom))
	}
	if len(sp.Conflicts) > 0 {
		opts = append(opts, Conflicts(sp.Conflicts...))
	}
	return opts
}

// Load reads a YAML snapshot.  Unknown keys are rejected.
func Load(r io.Reader) (*Repo, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var snap snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode repository snapshot: %w", err)
	}
	if snap.Id == "" {
		return nil, fmt.Errorf("repository snapshot without id")
	}
	opts := make([]Option, 0, len(snap.Packages))
	for _, sp := range snap.Packages {
		opts = append(opts, Package(pkgqueue.PackageId(sp.Id), sp.Atom, sp.options()...))
	}
	return New(snap.Id, opts...)
}

func LoadFile(path string) (*Repo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// LoadFiles loads several snapshots concurrently.  The repositories are returned in the order of
// the paths.
func LoadFiles(ctx context.Context, paths ...string) ([]*Repo, error) {
	repos := make([]*Repo, len(paths))
	gr, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		gr.Go(func() error {
			if err := context.Cause(ctx); err != nil {
				return err
			}
			r, err := LoadFile(path)
			if err != nil {
				return err
			}
			slog.DebugContext(ctx, "loaded repository snapshot", "path", path, "id", r.Id(), "packages", len(r.ids))
			repos[i] = r
			return nil
		})
	}
	if err := gr.Wait(); err != nil {
		return nil, err
	}
	return repos, nil
}
