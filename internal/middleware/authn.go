package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/logging"
)

// AuthnDependencies provides the collaborators of the session middleware.
type AuthnDependencies struct {
	Authenticator Authenticator
	Cookies       auth.CookieSettings
	Logger        *zap.Logger
}

// NewSessionAuthMiddleware resolves the session cookie to a principal and
// stores it on the request context.
//
// Requests without a cookie, or with a cookie for an unknown, expired, idle
// or revoked session, continue anonymously; a stale cookie is cleared.
// Whether anonymous access is acceptable is decided later by the policy
// table. A failing session store answers 500.
func NewSessionAuthMiddleware(deps AuthnDependencies) func(http.Handler) http.Handler {
	logger := logging.OrNop(deps.Logger).Named("authn")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := auth.SessionToken(r, deps.Cookies)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := deps.Authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if auth.IsAuthenticationFailure(err) {
					logger.Debug("discarding session cookie", zap.Error(err))
					auth.ClearSessionCookie(w, deps.Cookies)
					next.ServeHTTP(w, r)
					return
				}
				logger.Error("session lookup failed", zap.Error(err))
				WriteJSONError(w, http.StatusInternalServerError, "authentication error")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.SetPrincipal(r.Context(), principal)))
		})
	}
}
