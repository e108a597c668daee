package middleware

import (
	"log/slog"
	"net/http"

	"storefront-pipeline/shared/authx"
	"storefront-pipeline/shared/httpx"
	"storefront-pipeline/shared/logx"
)

// AuthMiddleware admits requests carrying a valid bearer token with Role.
type AuthMiddleware struct {
	Verifier authx.Verifier
	Role     string
	Logger   logx.Logger
	Skip     func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if m.Verifier == nil {
			httpx.WriteError(w, r, http.StatusPreconditionFailed, "FAILED_PRECONDITION", "auth verifier not configured", nil)
			return
		}

		token, ok := authx.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}
		auth, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
			return
		}
		if !auth.HasRole(m.Role) {
			m.Logger.Warn(r.Context(), "auth_forbidden", "caller lacks required role",
				slog.String("error_code", "PERMISSION_DENIED"),
				slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
				slog.String("subject", auth.Subject),
				slog.String("role", m.Role),
			)
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", "missing role "+m.Role, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(httpx.WithSubject(r.Context(), auth.Subject)))
	})
}
