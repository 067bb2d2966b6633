package pkgqueue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAtom(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		in      string
		want    Atom
		wantStr string
	}{
		{
			in:      "app-misc/foo",
			want:    Atom{Key: "app-misc/foo"},
			wantStr: "app-misc/foo",
		},
		{
			in:      "app-misc/foo-1.2",
			want:    Atom{Op: OpEqual, Key: "app-misc/foo", Version: "1.2"},
			wantStr: "=app-misc/foo-1.2",
		},
		{
			in:      ">=app-misc/foo-1.2:2",
			want:    Atom{Op: OpGreaterEqual, Key: "app-misc/foo", Version: "1.2", Slot: "2"},
			wantStr: ">=app-misc/foo-1.2:2",
		},
		{
			in:      "=app-misc/foo-1.2*",
			want:    Atom{Op: OpEqual, Key: "app-misc/foo", Version: "1.2", Glob: true},
			wantStr: "=app-misc/foo-1.2*",
		},
		{
			in:      "~sys-kernel/linux-5.10#lts",
			want:    Atom{Op: OpApprox, Key: "sys-kernel/linux", Version: "5.10", Tag: "lts"},
			wantStr: "~sys-kernel/linux-5.10#lts",
		},
		{
			in:      "app-misc/foo#k:1",
			want:    Atom{Key: "app-misc/foo", Slot: "1", Tag: "k"},
			wantStr: "app-misc/foo:1#k",
		},
		{
			in: "!!<dev-libs/bar-2@main,extra",
			want: Atom{Blocker: true, Op: OpLess, Key: "dev-libs/bar", Version: "2",
				Repos: []string{"main", "extra"}},
			wantStr: "!<dev-libs/bar-2@main,extra",
		},
		{
			in:      "dev-libs/lib-foo-bar-1.0_rc1-r2",
			want:    Atom{Op: OpEqual, Key: "dev-libs/lib-foo-bar", Version: "1.0_rc1-r2"},
			wantStr: "=dev-libs/lib-foo-bar-1.0_rc1-r2",
		},
		{
			in:      "x11-libs/gtk+-3",
			want:    Atom{Op: OpEqual, Key: "x11-libs/gtk+", Version: "3"},
			wantStr: "=x11-libs/gtk+-3",
		},
	} {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAtom(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseAtom(%q) (-want +got):\n%s", tc.in, diff)
			}
			if s := got.String(); s != tc.wantStr {
				t.Errorf("String() = %q, want %q", s, tc.wantStr)
			}
		})
	}
}

func TestParseAtomErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"",
		"foo",
		"/foo",
		"app-misc/",
		"a/b/c",
		">=app-misc/foo",
		"~app-misc/foo-1*",
		"app-misc/foo:",
		"app-misc/foo:1:2",
		"app-misc/foo#a#b",
		"app-misc/foo@",
		"app-misc/foo@main,",
		"app-misc/foo app-misc/bar",
		"|| ( app-misc/foo )",
	} {
		if a, err := ParseAtom(in); err == nil {
			t.Errorf("ParseAtom(%q) = %+v, want error", in, a)
		}
	}
}

func TestAtomMatches(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		atom string
		key  string
		slot string
		v    Versioning
		want bool
	}{
		{"app-misc/foo", "app-misc/foo", "0", Versioning{Version: "1"}, true},
		{"app-misc/foo", "app-misc/foobar", "0", Versioning{Version: "1"}, false},
		{"app-misc/foo:2", "app-misc/foo", "1", Versioning{Version: "1"}, false},
		{"app-misc/foo:2", "app-misc/foo", "2", Versioning{Version: "1"}, true},
		{">=app-misc/foo-1.2", "app-misc/foo", "0", Versioning{Version: "1.2"}, true},
		{">=app-misc/foo-1.2", "app-misc/foo", "0", Versioning{Version: "1.1"}, false},
		{">app-misc/foo-1.2", "app-misc/foo", "0", Versioning{Version: "1.2"}, false},
		{"<app-misc/foo-2", "app-misc/foo", "0", Versioning{Version: "1.9"}, true},
		{"<=app-misc/foo-2", "app-misc/foo", "0", Versioning{Version: "2"}, true},
		{"=app-misc/foo-1.2", "app-misc/foo", "0", Versioning{Version: "1.2-r1"}, false},
		{"~app-misc/foo-1.2", "app-misc/foo", "0", Versioning{Version: "1.2-r3"}, true},
		{"~app-misc/foo-1.2", "app-misc/foo", "0", Versioning{Version: "1.3"}, false},
		{"=app-misc/foo-1.2*", "app-misc/foo", "0", Versioning{Version: "1.2.5"}, true},
		{"=app-misc/foo-1.2*", "app-misc/foo", "0", Versioning{Version: "1.3"}, false},
		{"app-misc/foo#k", "app-misc/foo", "0", Versioning{Version: "1"}, false},
		{"app-misc/foo#k", "app-misc/foo", "0", Versioning{Version: "1", Tag: "k"}, true},
		// Blockers and repository restrictions are the caller's concern.
		{"!app-misc/foo@main", "app-misc/foo", "0", Versioning{Version: "1"}, true},
	} {
		a, err := ParseAtom(tc.atom)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.Matches(tc.key, tc.slot, tc.v); got != tc.want {
			t.Errorf("%q.Matches(%q, %q, %v) = %v, want %v", tc.atom, tc.key, tc.slot, tc.v, got, tc.want)
		}
	}
}

func TestParseDependency(t *testing.T) {
	t.Parallel()
	atom := func(s string) Atom {
		a, err := ParseAtom(s)
		if err != nil {
			t.Fatal(err)
		}
		return a
	}
	for _, tc := range []struct {
		in      string
		want    DependencyExpr
		wantStr string
	}{
		{
			in:      ">=dev-libs/a-1",
			want:    DependencyExpr{Branches: [][]Atom{{atom(">=dev-libs/a-1")}}},
			wantStr: ">=dev-libs/a-1",
		},
		{
			in: "|| ( dev-libs/a ( dev-libs/b dev-libs/c ) )",
			want: DependencyExpr{Or: true, Branches: [][]Atom{
				{atom("dev-libs/a")},
				{atom("dev-libs/b"), atom("dev-libs/c")},
			}},
			wantStr: "|| ( dev-libs/a ( dev-libs/b dev-libs/c ) )",
		},
		{
			in: "dev-libs/a;>=dev-libs/b-2?",
			want: DependencyExpr{Or: true, Branches: [][]Atom{
				{atom("dev-libs/a")},
				{atom(">=dev-libs/b-2")},
			}},
			wantStr: "|| ( dev-libs/a >=dev-libs/b-2 )",
		},
	} {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDependency(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseDependency(%q) (-want +got):\n%s", tc.in, diff)
			}
			if s := got.String(); s != tc.wantStr {
				t.Errorf("String() = %q, want %q", s, tc.wantStr)
			}
			n := 0
			for range got.Atoms() {
				n++
			}
			want := 0
			for _, b := range tc.want.Branches {
				want += len(b)
			}
			if n != want {
				t.Errorf("Atoms() yielded %v atoms, want %v", n, want)
			}
		})
	}
}

func TestParseDependencyErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"",
		"|| dev-libs/a",
		"|| ( )",
		"|| ( dev-libs/a ( ( dev-libs/b ) ) )",
		"|| ( dev-libs/a ( dev-libs/b )",
		"|| ( dev-libs/a ( ) )",
		"|| ( dev-libs/a ) )",
		"dev-libs/a;bogus?",
	} {
		if e, err := ParseDependency(in); err == nil {
			t.Errorf("ParseDependency(%q) = %v, want error", in, e)
		}
	}
}
