package version

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-labs/mikro-registry/internal/domain"
)

func TestParseSpec(t *testing.T) {
	cases := map[string]Spec{
		"":      LatestSpec(),
		"x":     LatestSpec(),
		"x.x.x": LatestSpec(),
		"1":     MajorSpec(1),
		"1.x":   MajorSpec(1),
		"1.x.x": MajorSpec(1),
		"1.2":   MinorSpec(1, 2),
		"1.2.x": MinorSpec(1, 2),
		"1.2.3": ExactSpec(1, 2, 3),
		"10.0.7": ExactSpec(10, 0, 7),
	}
	for raw, want := range cases {
		got, err := ParseSpec(raw)
		require.NoError(t, err, "ParseSpec(%q)", raw)
		require.Equal(t, want, got, "ParseSpec(%q)", raw)
	}
}

func TestParseSpec_Invalid(t *testing.T) {
	for _, raw := range []string{"x.2", "1.x.3", "1.2.3.4", "a", "1..2", "-1", "1.2.3-beta", "1.X", "1.*", "*"} {
		_, err := ParseSpec(raw)
		require.ErrorIs(t, err, domain.ErrInvalidVersion, "ParseSpec(%q)", raw)
	}
}

func TestSpecMatches(t *testing.T) {
	require.True(t, LatestSpec().Matches(9, 9, 9))
	require.True(t, MajorSpec(1).Matches(1, 7, 0))
	require.False(t, MajorSpec(1).Matches(2, 0, 0))
	require.True(t, MinorSpec(1, 2).Matches(1, 2, 99))
	require.False(t, MinorSpec(1, 2).Matches(1, 3, 0))
	require.False(t, ExactSpec(1, 2, 3).Matches(1, 2, 4))
}
