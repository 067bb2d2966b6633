package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/amterp/color"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-graphviz"
	"github.com/rhansen/pkgqueue"
)

var (
	cyanf    = color.New(color.FgCyan).SprintfFunc()
	greenf   = color.New(color.FgGreen).SprintfFunc()
	redf     = color.New(color.FgRed).SprintfFunc()
	yellowf  = color.New(color.FgYellow).SprintfFunc()
	hiblackf = color.New(color.FgHiBlack).SprintfFunc()
)

// A view is the renderer-independent form of a dependency or reverse-dependency graph.
type view struct {
	roots    []string
	labels   map[string]string
	children map[string][]string
}

func depView(dg *pkgqueue.DependencyGraph) *view {
	v := &view{labels: map[string]string{}, children: map[string][]string{}}
	label := func(m pkgqueue.PackageMatch) string {
		if repo, ok := m.Repository(); ok {
			return fmt.Sprintf("%s@%s", dg.Atom(m), repo)
		}
		return dg.Atom(m) + "@installed"
	}
	for n := range dg.Nodes() {
		v.labels[n.String()] = label(n)
		for c := range dg.Children(n) {
			v.children[n.String()] = append(v.children[n.String()], c.String())
		}
	}
	for _, s := range dg.Seeds {
		v.roots = append(v.roots, s.String())
	}
	return v
}

func revdepView(rg *pkgqueue.ReverseDependencyGraph) *view {
	v := &view{labels: map[string]string{}, children: map[string][]string{}}
	key := func(id pkgqueue.PackageId) string { return fmt.Sprint(int(id)) }
	for n := range rg.Nodes() {
		v.labels[key(n)] = rg.Atom(n)
		for c := range rg.Children(n) {
			v.children[key(n)] = append(v.children[key(n)], key(c))
		}
	}
	for _, r := range rg.Roots {
		v.roots = append(v.roots, key(r))
	}
	return v
}

type outputFn = func(ctx context.Context, w io.Writer, v *view) error

var allOutputFuncs = [...]outputFn{
	outputTree,
	outputRaw,
	outputDot,
	outputSvg,
}

var allOutput = map[string]*outputFn{
	"tree": &allOutputFuncs[0],
	"raw":  &allOutputFuncs[1],
	"dot":  &allOutputFuncs[2],
	"svg":  &allOutputFuncs[3],
}

func outputTree(ctx context.Context, w io.Writer, v *view) error {
	seenMsg := hiblackf(" (repeat)")
	seen := mapset.NewThreadUnsafeSet[string]()
	var visit func(n string, indent int)
	visit = func(n string, indent int) {
		fmt.Fprint(w, strings.Repeat("  ", indent))
		if !seen.Add(n) {
			fmt.Fprintf(w, "%s%s\n", hiblackf("%s", v.labels[n]), seenMsg)
			return
		}
		fmt.Fprintf(w, "%s\n", v.labels[n])
		for _, c := range v.children[n] {
			visit(c, indent+1)
		}
	}
	for _, r := range v.roots {
		visit(r, 0)
	}
	return nil
}

func outputRaw(ctx context.Context, w io.Writer, v *view) error {
	labels := make([]string, 0, len(v.labels))
	for _, l := range v.labels {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	for _, l := range labels {
		fmt.Fprintln(w, l)
	}
	return nil
}

func toDot(v *view) string {
	var sb strings.Builder
	sb.WriteString("digraph {\n")
	sb.WriteString("  rankdir = \"LR\";\n")
	sb.WriteString("  node [style=filled,fillcolor=\"white\",shape=box];\n")
	nodes := slices.Sorted(func(yield func(string) bool) {
		for n := range v.labels {
			if !yield(n) {
				return
			}
		}
	})
	for _, n := range nodes {
		attrs := []string{fmt.Sprintf("label=%q", v.labels[n])}
		if slices.Contains(v.roots, n) {
			attrs = append(attrs, "fillcolor=\"black\"", "fontcolor=\"white\"")
		}
		fmt.Fprintf(&sb, "  %q [%s];\n", n, strings.Join(attrs, ","))
	}
	for _, n := range nodes {
		for _, c := range v.children[n] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", n, c)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func outputDot(ctx context.Context, w io.Writer, v *view) error {
	_, err := io.WriteString(w, toDot(v))
	return err
}

func outputSvg(ctx context.Context, w io.Writer, v *view) error {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()
	g, err := graphviz.ParseBytes([]byte(toDot(v)))
	if err != nil {
		return fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()
	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
