package version

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/animus-labs/mikro-registry/internal/domain"
)

func TestResolve_WorkedExample(t *testing.T) {
	published := []string{"1.0.0", "1.2.0", "1.2.5", "2.0.0"}
	r := NewResolver(nil)

	cases := []struct {
		spec Spec
		want string
	}{
		{MinorSpec(1, 2), "1.2.5"},
		{MajorSpec(1), "1.2.5"},
		{LatestSpec(), "2.0.0"},
		{ExactSpec(1, 2, 0), "1.2.0"},
		{MajorSpec(2), "2.0.0"},
	}
	for _, tc := range cases {
		t.Run(tc.spec.String(), func(t *testing.T) {
			got, err := r.Resolve(published, tc.spec)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.Resolve([]string{"1.0.0"}, MajorSpec(3))
	require.ErrorIs(t, err, domain.ErrVersionNotFound)

	_, err = r.Resolve(nil, LatestSpec())
	require.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestResolve_SkipsUnparseable(t *testing.T) {
	r := NewResolver(nil)

	got, err := r.Resolve([]string{"garbage", "9.0.0-beta.1", "1.5.0", "v3.0.0", "1.4"}, LatestSpec())
	require.NoError(t, err)
	require.Equal(t, "1.5.0", got)
}

func TestResolve_NumericNotLexicalOrdering(t *testing.T) {
	r := NewResolver(nil)

	got, err := r.Resolve([]string{"1.9.0", "1.10.0", "1.2.0"}, MajorSpec(1))
	require.NoError(t, err)
	require.Equal(t, "1.10.0", got)
}

func TestResolve_MaxOfMatchingPrefix(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		triples := rapid.SliceOf(rapid.Custom(func(rt *rapid.T) triple {
			return triple{
				major: rapid.Uint64Range(0, 4).Draw(rt, "major"),
				minor: rapid.Uint64Range(0, 4).Draw(rt, "minor"),
				patch: rapid.Uint64Range(0, 12).Draw(rt, "patch"),
			}
		})).Draw(rt, "published")

		published := make([]string, 0, len(triples))
		for _, tr := range triples {
			published = append(published, fmt.Sprintf("%d.%d.%d", tr.major, tr.minor, tr.patch))
		}

		kind := Kind(rapid.IntRange(int(Latest), int(Exact)).Draw(rt, "kind"))
		spec := Spec{
			Kind:  kind,
			Major: rapid.Uint64Range(0, 4).Draw(rt, "specMajor"),
			Minor: rapid.Uint64Range(0, 4).Draw(rt, "specMinor"),
			Patch: rapid.Uint64Range(0, 12).Draw(rt, "specPatch"),
		}

		var best *triple
		for i := range triples {
			tr := triples[i]
			if !spec.Matches(tr.major, tr.minor, tr.patch) {
				continue
			}
			if best == nil || less(*best, tr) {
				best = &tr
			}
		}

		got, err := NewResolver(nil).Resolve(published, spec)
		if best == nil {
			if err == nil {
				rt.Fatalf("expected not found, got %q", got)
			}
			return
		}
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		want := fmt.Sprintf("%d.%d.%d", best.major, best.minor, best.patch)
		if got != want {
			rt.Fatalf("Resolve()=%q, want %q", got, want)
		}
	})
}

type triple struct{ major, minor, patch uint64 }

func less(a, b triple) bool {
	if a.major != b.major {
		return a.major < b.major
	}
	if a.minor != b.minor {
		return a.minor < b.minor
	}
	return a.patch < b.patch
}

func TestValidateExact(t *testing.T) {
	require.NoError(t, ValidateExact("1.0.0"))
	require.ErrorIs(t, ValidateExact("1.0"), domain.ErrInvalidVersion)
	require.ErrorIs(t, ValidateExact("1.0.0-rc.1"), domain.ErrInvalidVersion)
	require.ErrorIs(t, ValidateExact("latest"), domain.ErrInvalidVersion)
}
