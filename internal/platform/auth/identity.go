package auth

import (
	"context"
	"log/slog"
	"slices"
)

// RolePublisher may upload new component versions.
const RolePublisher = "publisher"

// Identity is the authenticated caller of a protected route.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// LogValue names the caller without its roles.
func (i Identity) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("subject", i.Subject)}
	if i.Email != "" {
		attrs = append(attrs, slog.String("email", i.Email))
	}
	return slog.GroupValue(attrs...)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

// IdentityFromContext returns the caller stored by Middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
