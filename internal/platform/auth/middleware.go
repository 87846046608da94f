package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Realm         string
	RequiredRole  string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			reason := "invalid_credentials"
			if errors.Is(err, ErrUnauthenticated) {
				reason = "unauthenticated"
			}
			m.logDeny(r, http.StatusUnauthorized, reason, err)
			m.challenge(w)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if m.RequiredRole != "" && !identity.HasRole(m.RequiredRole) {
			m.logDeny(r, http.StatusForbidden, "forbidden", ErrForbidden, "subject", identity.Subject)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func (m Middleware) challenge(w http.ResponseWriter) {
	realm := m.Realm
	if realm == "" {
		realm = "mikro-registry"
	}
	switch m.Authenticator.(type) {
	case *OIDCAuthenticator:
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", realm))
	default:
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", realm))
	}
}

func (m Middleware) logDeny(r *http.Request, status int, reason string, err error, extra ...any) {
	if m.Logger == nil {
		return
	}
	fields := []any{
		"reason", reason,
		"status", status,
		"request_id", r.Header.Get("X-Request-Id"),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	}
	fields = append(fields, extra...)
	m.Logger.Warn("auth deny", fields...)
}
