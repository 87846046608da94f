// Package version resolves component version specifiers against the set of
// published versions.
//
// Published versions are strict MAJOR.MINOR.PATCH strings. A request
// specifier fixes a prefix of those segments and wildcards the rest, so
// "1.2" and "1.2.x" both select the newest 1.2.* release. Prerelease and
// build segments are not supported and never match.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/domain"
)

// Kind tags which segments of a Spec are fixed.
type Kind int

const (
	Latest Kind = iota
	MajorLocked
	MinorLocked
	Exact
)

func (k Kind) String() string {
	switch k {
	case Latest:
		return "latest"
	case MajorLocked:
		return "major"
	case MinorLocked:
		return "minor"
	case Exact:
		return "exact"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Spec is a request-side version selector. Only the segments covered by
// Kind are meaningful.
type Spec struct {
	Kind  Kind
	Major uint64
	Minor uint64
	Patch uint64
}

func LatestSpec() Spec {
	return Spec{Kind: Latest}
}

func MajorSpec(major uint64) Spec {
	return Spec{Kind: MajorLocked, Major: major}
}

func MinorSpec(major, minor uint64) Spec {
	return Spec{Kind: MinorLocked, Major: major, Minor: minor}
}

func ExactSpec(major, minor, patch uint64) Spec {
	return Spec{Kind: Exact, Major: major, Minor: minor, Patch: patch}
}

func (s Spec) String() string {
	switch s.Kind {
	case Latest:
		return "x"
	case MajorLocked:
		return fmt.Sprintf("%d.x", s.Major)
	case MinorLocked:
		return fmt.Sprintf("%d.%d.x", s.Major, s.Minor)
	default:
		return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
	}
}

// Matches reports whether the fixed segments of s equal the given triple.
func (s Spec) Matches(major, minor, patch uint64) bool {
	switch s.Kind {
	case Latest:
		return true
	case MajorLocked:
		return major == s.Major
	case MinorLocked:
		return major == s.Major && minor == s.Minor
	case Exact:
		return major == s.Major && minor == s.Minor && patch == s.Patch
	default:
		return false
	}
}

// ParseSpec parses a dot separated specifier of one to three segments.
// Each segment is a number or "x"; once a segment is wildcarded every
// following segment must be too. The empty string means Latest.
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return LatestSpec(), nil
	}
	parts := strings.Split(raw, ".")
	if len(parts) > 3 {
		return Spec{}, fmt.Errorf("%w: %q has more than three segments", domain.ErrInvalidVersion, raw)
	}

	var fixed []uint64
	wildcard := false
	for _, part := range parts {
		if part == "x" {
			wildcard = true
			continue
		}
		if wildcard {
			return Spec{}, fmt.Errorf("%w: %q fixes a segment after a wildcard", domain.ErrInvalidVersion, raw)
		}
		n, err := parseSegment(part)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q: %v", domain.ErrInvalidVersion, raw, err)
		}
		fixed = append(fixed, n)
	}

	switch len(fixed) {
	case 0:
		return LatestSpec(), nil
	case 1:
		return MajorSpec(fixed[0]), nil
	case 2:
		return MinorSpec(fixed[0], fixed[1]), nil
	default:
		return ExactSpec(fixed[0], fixed[1], fixed[2]), nil
	}
}

func parseSegment(part string) (uint64, error) {
	if part == "" {
		return 0, fmt.Errorf("empty segment")
	}
	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("segment %q is not numeric", part)
		}
	}
	return strconv.ParseUint(part, 10, 64)
}
