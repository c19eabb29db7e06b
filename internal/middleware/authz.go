package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/logging"
	"github.com/schoolist/edgeservice/internal/telemetry"
)

// AuthzDependencies provides the collaborators needed for authorization decisions.
type AuthzDependencies struct {
	Policy *auth.PolicyTable
	// LoginPath is where unauthenticated browsers are sent.
	LoginPath string
	// Bypass lists exact paths served outside the policy table (login,
	// callback, logout); they must stay reachable without a session.
	Bypass  []string
	Cookies auth.CookieSettings
	Metrics *telemetry.AuthMetrics
	Logger  *zap.Logger
}

// NewAuthzMiddleware constructs a chi middleware that evaluates the policy
// table for every request.
//
//	Allow            → next handler
//	Deny             → 403 JSON error for authenticated callers; anonymous
//	                   callers are sent to login like RedirectToLogin
//	RedirectToLogin  → remember the URL (GET only) and 302 to LoginPath;
//	                   XMLHttpRequest callers get 401 instead
func NewAuthzMiddleware(deps AuthzDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Policy == nil {
		return nil, errors.New("authz middleware requires a policy table")
	}
	if deps.LoginPath == "" {
		return nil, errors.New("authz middleware requires a login path")
	}
	logger := logging.OrNop(deps.Logger).Named("authz")
	bypass := make(map[string]struct{}, len(deps.Bypass))
	for _, p := range deps.Bypass {
		bypass[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bypass[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			principal, _ := auth.PrincipalFromContext(ctx)
			decision := deps.Policy.Authorize(r.URL.Path, principal.AuthoritySet(), principal.IsAuthenticated())
			deps.Metrics.RecordDecision(ctx, decision.String())

			switch {
			case decision == auth.Allow:
				next.ServeHTTP(w, r)
			case decision == auth.Deny && principal.IsAuthenticated():
				logger.Info("access denied",
					zap.String("path", r.URL.Path),
					zap.String("subject", principal.Subject))
				WriteJSONError(w, http.StatusForbidden, "access denied")
			default:
				if isXHR(r) {
					WriteJSONError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				if r.Method == http.MethodGet {
					auth.SetRedirectCookie(w, deps.Cookies, r.URL.RequestURI())
				}
				http.Redirect(w, r, deps.LoginPath, http.StatusFound)
			}
		})
	}, nil
}

func isXHR(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}
