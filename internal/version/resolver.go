package version

import (
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/animus-labs/mikro-registry/internal/domain"
)

// Resolver picks the newest published version matching a Spec.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{logger: logger}
}

// Resolve returns the original string of the greatest published version
// whose fixed prefix matches spec. Strings that are not strict
// MAJOR.MINOR.PATCH are logged and skipped.
func (r *Resolver) Resolve(published []string, spec Spec) (string, error) {
	var best *semver.Version
	for _, raw := range published {
		v, err := parsePublished(raw)
		if err != nil {
			r.logger.Warn("skipping unparseable published version", "version", raw, "error", err)
			continue
		}
		if !spec.Matches(v.Major(), v.Minor(), v.Patch()) {
			continue
		}
		if best == nil || v.Compare(best) > 0 {
			best = v
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w: no published version matches %s", domain.ErrVersionNotFound, spec)
	}
	return best.Original(), nil
}

// ValidateExact checks a publish-side version string.
func ValidateExact(raw string) error {
	if _, err := parsePublished(raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidVersion, err)
	}
	return nil
}

func parsePublished(raw string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return nil, err
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return nil, fmt.Errorf("prerelease and build segments are not supported: %q", raw)
	}
	return v, nil
}
