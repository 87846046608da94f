package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/platform/env"
)

type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeOIDC     Mode = "oidc"
	ModeDisabled Mode = "disabled"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Config struct {
	Mode  Mode
	Realm string

	Username string
	Password string

	OIDCIssuerURL string
	OIDCClientID  string
	RolesClaim    string
	EmailClaim    string
	// RequiredRole, when set, must be present in the identity roles.
	RequiredRole string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(env.String("REGISTRY_AUTH_MODE", string(ModeBasic)))
	var mode Mode
	switch modeRaw {
	case string(ModeBasic):
		mode = ModeBasic
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("REGISTRY_AUTH_MODE must be one of: basic, oidc, disabled (got %q)", modeRaw)
	}

	cfg := Config{
		Mode:          mode,
		Realm:         env.String("REGISTRY_AUTH_REALM", "mikro-registry"),
		Username:      env.String("REGISTRY_AUTH_USERNAME", ""),
		Password:      env.String("REGISTRY_AUTH_PASSWORD", ""),
		OIDCIssuerURL: env.String("REGISTRY_OIDC_ISSUER_URL", ""),
		OIDCClientID:  env.String("REGISTRY_OIDC_CLIENT_ID", ""),
		RolesClaim:    env.String("REGISTRY_OIDC_ROLES_CLAIM", "roles"),
		EmailClaim:    env.String("REGISTRY_OIDC_EMAIL_CLAIM", "email"),
		RequiredRole:  strings.ToLower(env.String("REGISTRY_AUTH_REQUIRED_ROLE", "")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Realm) == "" {
		return errors.New("REGISTRY_AUTH_REALM is required")
	}
	switch c.Mode {
	case ModeBasic:
		if strings.TrimSpace(c.Username) == "" || c.Password == "" {
			return errors.New("REGISTRY_AUTH_USERNAME and REGISTRY_AUTH_PASSWORD are required when REGISTRY_AUTH_MODE=basic")
		}
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("REGISTRY_OIDC_ISSUER_URL is required when REGISTRY_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("REGISTRY_OIDC_CLIENT_ID is required when REGISTRY_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("REGISTRY_OIDC_ROLES_CLAIM is required")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}
